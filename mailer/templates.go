package mailer

import (
	"fmt"
	"time"
)

const (
	TemplatePodEstimate          = "pod_estimate"
	TemplatePodConfirmation      = "pod_confirmation"
	TemplateBasementConfirmation = "basement_confirmation"
	TemplateSalesNotification    = "sales_notification"
)

// Subjects are text templates over the same data as the body.
var subjects = map[string]string{
	TemplatePodEstimate:          `Your Pod Estimate: {{.Low}}-{{.High}} {{.Currency}}`,
	TemplatePodConfirmation:      `Quote Received - We'll be in touch soon! (Quote #{{.Reference}})`,
	TemplateBasementConfirmation: `Thanks {{.FirstName}}! We received your basement inquiry`,
	TemplateSalesNotification:    `{{if .Hot}}🔥{{else}}⭐{{end}} NEW LEAD: {{.FirstName}} - {{.Product}} ({{.Priority}})`,
}

// TimeAgo describes how long before now t was, e.g. "5 minutes ago".
func TimeAgo(t, now time.Time) string {
	minutes := int(now.Sub(t) / time.Minute)
	switch {
	case minutes < 1:
		return "Just now"
	case minutes == 1:
		return "1 minute ago"
	case minutes < 60:
		return fmt.Sprintf("%d minutes ago", minutes)
	}
	hours := minutes / 60
	switch {
	case hours == 1:
		return "1 hour ago"
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := hours / 24
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}

const layoutHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #033A3F; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .estimate { font-size: 28px; font-weight: bold; color: #FF5D22; margin: 20px 0; text-align: center; }
        .badge { display: inline-block; color: #fff; font-weight: bold; padding: 6px 16px; border-radius: 16px; }
        .button { display: inline-block; background: #FF5D22; color: #fff; padding: 12px 32px; border-radius: 8px; text-decoration: none; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
        td { padding: 4px 8px; }
    </style>
</head>
<body>`

const layoutFoot = `
    <div class="footer">
        <p>&copy; {{.Year}} {{.Company}}. All rights reserved.</p>
    </div>
</body>
</html>`

const podConfiguration = `
        <h3>Your Configuration</h3>
        <table>
            <tr><td>Purpose</td><td><strong>{{.UseCase}}</strong></td></tr>
            <tr><td>Size</td><td>STANDARD 160 SQ FT</td></tr>
            <tr><td>Exterior</td><td><strong>{{.ExteriorColor}} Composite</strong></td></tr>
            <tr><td>Flooring</td><td><strong>{{.Flooring}}</strong></td></tr>
            <tr><td>Heating &amp; Cooling</td><td><strong>{{if .HVAC}}Included (Mini-split){{else}}Not Included{{end}}</strong></td></tr>
        </table>`

const basementDetails = `
        <table>
            <tr><td>Project Location</td><td>{{.ProjectLocation}}</td></tr>
            <tr><td>Project Types</td><td>{{.ProjectTypes}}</td></tr>
            <tr><td>Separate Entrance</td><td>{{if .SeparateEntrance}}Yes{{else}}No{{end}}</td></tr>
            <tr><td>Have Plans/Design</td><td>{{if .HasPlanDesign}}Yes{{else}}No{{end}}</td></tr>
            <tr><td>Timeline</td><td>{{.Urgency}}</td></tr>
        </table>
        {{if .AdditionalDetails}}<p><strong>Additional Details:</strong><br>{{.AdditionalDetails}}</p>{{end}}`

// Embedded email templates
var emailTemplates = map[string]string{
	TemplatePodEstimate: layoutHead + `
    <div class="header"><h2>Your Backyard Pod Estimate</h2></div>
    <div class="content">
        <p>Hi there!</p>
        <p>Thanks for using our Pod Estimator. Based on your preferences, here's your personalized estimate:</p>
        <div class="estimate">{{.Low}} - {{.High}}</div>
        <p style="text-align:center">{{.Currency}} + tax &bull; Includes delivery &amp; installation</p>` + podConfiguration + `
        <p style="text-align:center"><a class="button" href="{{.ResumeURL}}">Check Availability in Your Area &rarr;</a></p>
        <h3>What's next?</h3>
        <ul>
            <li>Complete your info to check site eligibility</li>
            <li>Get a personalized consultation</li>
            <li>Receive your final buildable quote</li>
        </ul>
        <p>Questions? Simply reply to this email and we'll get back to you right away.</p>
    </div>` + layoutFoot,

	TemplatePodConfirmation: layoutHead + `
    <div class="header"><h2>Quote Received!</h2><p>We'll be in touch soon</p></div>
    <div class="content">
        <p>Hi {{.FirstName}}!</p>
        <p>Thanks for submitting your information. We've received your quote request and will review your property for site suitability.</p>
        <table>
            <tr><td>Quote ID</td><td><strong>#{{.Reference}}</strong></td></tr>
            <tr><td>Property</td><td>{{.Address}}</td></tr>
            <tr><td>Estimate</td><td>{{.Low}} - {{.High}} {{.Currency}}</td></tr>
        </table>
        <h3>What happens next?</h3>
        <ol>
            <li><strong>Site review</strong>: our team will review your address for eligibility and access requirements (1-2 business days).</li>
            <li><strong>Personal consultation</strong>: we'll reach out to discuss your project and answer any questions (2-3 business days).</li>
            <li><strong>Final quote</strong>: receive your detailed, buildable quote with timeline and payment options (3-5 business days).</li>
        </ol>` + podConfiguration + `
        <p>We'll contact you at {{.Email}} or {{.Phone}}.</p>
        <p>Questions? Reply to this email anytime and we'll get back to you right away.</p>
    </div>` + layoutFoot,

	TemplateBasementConfirmation: layoutHead + `
    <div class="header"><h2>Inquiry Received!</h2><p>We'll be in touch soon</p></div>
    <div class="content">
        <p>Hi {{.FirstName}}!</p>
        <p>Thank you for your interest in our basement renovation services. We've received your inquiry and our team will review your project details.</p>
        <h3>Your Project Details</h3>` + basementDetails + `
        <h3>What happens next?</h3>
        <ol>
            <li><strong>Project review</strong>: our team will review your project requirements and location for service availability.</li>
            <li><strong>Consultation call</strong>: we'll reach out to discuss your vision and answer any questions you may have.</li>
            <li><strong>Detailed quote</strong>: receive your customized quote with timeline and financing options.</li>
        </ol>
        <p>We'll contact you at {{.Email}} or {{.Phone}}.</p>
        <p>Questions in the meantime? Reply to this email anytime and we'll get back to you right away.</p>
    </div>` + layoutFoot,

	TemplateSalesNotification: layoutHead + `
    <div class="header">
        <span class="badge" style="background: {{if .Hot}}#EF4444{{else}}#F59E0B{{end}}">{{if .Hot}}HOT LEAD{{else}}WARM LEAD{{end}}</span>
        <h2>NEW {{.Product}} {{if eq .Funnel "basement"}}INQUIRY{{else}}QUOTE{{end}} {{.Reference}}</h2>
        <p>{{ago .SubmittedAt}}</p>
    </div>
    <div class="content">
        <p><a href="tel:{{.Phone}}">Call {{.FirstName}} Now</a> | <a href="mailto:{{.Email}}">Send Email</a></p>
        <p><strong>{{if .Hot}}Call within 1 hour{{else}}Call within 24 hours{{end}}</strong></p>
        <h3>Lead Contact Info</h3>
        <table>
            <tr><td>Full Name</td><td>{{.FullName}}</td></tr>
            <tr><td>Phone Number</td><td>{{.Phone}}</td></tr>
            <tr><td>Email Address</td><td>{{.Email}}</td></tr>
        </table>
        <h3>Project Summary</h3>
        {{if eq .Funnel "basement"}}` + basementDetails + `
        <h3>Lead Score Insights</h3>
        <ul>
            <li>{{if .Hot}}HIGH URGENCY: Lead wants to start ASAP - prioritize immediate contact{{else}}PLANNING PHASE: Lead has 1-3 month timeline - schedule consultation{{end}}</li>
            <li>{{if .SeparateEntrance}}RENTAL SUITE: Likely seeking income property - discuss ROI &amp; financing{{else}}PERSONAL USE: May be for family or home office{{end}}</li>
            <li>{{if .HasPlanDesign}}PLANS READY: Move faster to quote phase{{else}}DESIGN NEEDED: Opportunity to upsell design services{{end}}</li>
            <li>SERVICE AREA: Verify {{.ServiceArea}} is in coverage zone</li>
        </ul>
        {{else}}
        <table>
            <tr><td>Property</td><td>{{.Address}}</td></tr>
            <tr><td>Estimate</td><td>{{.Low}} - {{.High}} {{.Currency}}</td></tr>
        </table>` + podConfiguration + `
        {{if .AdditionalDetails}}<p><strong>Additional Details:</strong><br>{{.AdditionalDetails}}</p>{{end}}
        {{end}}
        <p>Submitted: {{stamp .SubmittedAt}}<br>Session: {{.SessionID}}<br>Source: {{.Product}} Estimator (Web)</p>
    </div>` + layoutFoot,
}
