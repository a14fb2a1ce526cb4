package funnel

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadfunnel/mailer"
	"leadfunnel/models"
)

func confirmationTemplate(t models.FunnelType) string {
	if t == models.FunnelBasement {
		return mailer.TemplateBasementConfirmation
	}
	return mailer.TemplatePodConfirmation
}

func (o *Orchestrator[T]) message(template, to string, data map[string]any, lead *models.Lead) mailer.Message {
	msg := mailer.Message{
		Template:  template,
		To:        to,
		Data:      data,
		SessionID: o.sessionID,
	}
	if lead != nil && lead.ID != 0 {
		id := lead.ID
		msg.LeadID = &id
	}
	return msg
}

// podEstimateData feeds the estimate email sent when a pod visitor leaves
// their email. Basement visitors get no email until they submit.
func podEstimateData(form models.PodFormData, est models.Estimate, resumeURL, email string) map[string]any {
	data := podConfigData(form)
	data["Low"] = money(est.Low)
	data["High"] = money(est.High)
	data["Currency"] = est.Currency
	data["ResumeURL"] = withEmail(resumeURL, email)
	return data
}

func podConfigData(f models.PodFormData) map[string]any {
	return map[string]any{
		"UseCase":           models.OptionLabel(f.UseCase),
		"ExteriorColor":     models.OptionLabel(f.ExteriorColor),
		"Flooring":          models.OptionLabel(f.Flooring),
		"HVAC":              f.HasHVAC(),
		"AdditionalDetails": strings.TrimSpace(f.AdditionalDetails),
	}
}

func basementData(f models.BasementFormData) map[string]any {
	return map[string]any{
		"ProjectLocation":   strings.TrimSpace(f.ProjectLocation),
		"ProjectTypes":      strings.Join(f.ProjectTypeLabels(), ", "),
		"SeparateEntrance":  f.NeedsSeparateEntrance != nil && *f.NeedsSeparateEntrance,
		"HasPlanDesign":     f.HasPlanDesign != nil && *f.HasPlanDesign,
		"Urgency":           models.OptionLabel(f.ProjectUrgency),
		"AdditionalDetails": strings.TrimSpace(f.AdditionalDetails),
	}
}

// submissionData is shared by the customer confirmation and the sales
// notification.
func submissionData(form models.FormData, lead *models.Lead, est models.Estimate) map[string]any {
	var data map[string]any
	switch f := form.(type) {
	case models.PodFormData:
		data = podConfigData(f)
	case models.BasementFormData:
		data = basementData(f)
	default:
		data = map[string]any{}
	}
	contact := form.Contact()
	first, _ := contact.FirstLast()
	data["FirstName"] = first
	data["FullName"] = strings.TrimSpace(contact.FullName)
	data["Phone"] = contact.Phone
	data["Email"] = lead.Email
	data["Reference"] = lead.Reference()
	data["Address"] = form.Address().FullAddress
	data["Low"] = money(est.Low)
	data["High"] = money(est.High)
	data["Currency"] = est.Currency
	return data
}

// salesData marks basement visitors who want to start now as hot leads.
// Pod leads are always warm and carry their estimate in the subject.
func salesData(form models.FormData, lead *models.Lead, est models.Estimate, sessionID string, submitted time.Time) map[string]any {
	data := submissionData(form, lead, est)
	data["Funnel"] = string(form.Funnel())
	data["SessionID"] = sessionID
	data["SubmittedAt"] = submitted
	switch f := form.(type) {
	case models.BasementFormData:
		data["Product"] = "Basement Suite"
		data["Hot"] = f.IsUrgent()
		data["Priority"] = models.OptionLabel(f.ProjectUrgency)
		area, _, _ := strings.Cut(strings.TrimSpace(f.ProjectLocation), ",")
		data["ServiceArea"] = strings.TrimSpace(area)
	default:
		data["Product"] = "Backyard Pod"
		data["Hot"] = false
		data["Priority"] = money(est.Low) + "-" + money(est.High)
	}
	return data
}

// withEmail adds the visitor's email to the resume link so the page can
// prefill it.
func withEmail(link, email string) string {
	if email == "" {
		return link
	}
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	q.Set("email", email)
	u.RawQuery = q.Encode()
	return u.String()
}

// money formats whole dollars with thousands separators, e.g. $42,500.
func money(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}
