package models

import "strings"

// FormData is the answers a visitor has given so far in one funnel. Each
// funnel has its own concrete variant so its fields are statically known.
type FormData interface {
	Funnel() FunnelType
	ContactEmail() string
	Address() Address
	Contact() Contact
}

// Address is the site or project location. FullAddress is what the visitor
// picked or typed; the coordinates and parts come from the geocoder and may be
// missing.
type Address struct {
	FullAddress string   `json:"full_address"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	City        string   `json:"city,omitempty"`
	Province    string   `json:"province,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
}

// IsZero reports whether no address field has been filled in.
func (a Address) IsZero() bool {
	return a.FullAddress == "" && a.Lat == nil && a.Lng == nil &&
		a.City == "" && a.Province == "" && a.PostalCode == ""
}

// Contact holds the personal details captured on the final step.
type Contact struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// FirstLast splits the full name on the first run of whitespace.
func (c Contact) FirstLast() (string, string) {
	parts := strings.Fields(c.FullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// Pod option values.
const (
	UseCaseHomeOffice   = "home_office"
	UseCaseHomeGym      = "home_gym"
	UseCaseSideBusiness = "side_business"

	ColorLight = "light"
	ColorBrown = "brown"
	ColorDark  = "dark"

	FlooringCarpet   = "carpet"
	FlooringVinyl    = "vinyl"
	FlooringConcrete = "concrete"

	HVACYes = "yes"
	HVACNo  = "no"
)

// Basement option values.
const (
	ProjectFullRemodel       = "full_remodel"
	ProjectBathroomAddition  = "bathroom_addition"
	ProjectFlooringCarpeting = "flooring_carpeting"
	ProjectDrywallInsulation = "drywall_insulation"
	ProjectSeparateEntrance  = "separate_entrance"

	UrgencyASAP       = "asap"
	UrgencyOneToThree = "1-3_months"

	OptionOther = "other"
)

var optionLabels = map[string]string{
	UseCaseHomeOffice:   "Home Office",
	UseCaseHomeGym:      "Home Gym",
	UseCaseSideBusiness: "Side Business",
	OptionOther:         "Other",

	ColorLight: "Light",
	ColorBrown: "Brown",
	ColorDark:  "Dark",

	FlooringCarpet:   "Carpet",
	FlooringVinyl:    "Vinyl",
	FlooringConcrete: "Polished Concrete",

	HVACYes: "Yes",
	HVACNo:  "No",

	ProjectFullRemodel:       "Full Basement Remodel",
	ProjectBathroomAddition:  "Basement Bathroom Addition",
	ProjectFlooringCarpeting: "Flooring & Carpeting",
	ProjectDrywallInsulation: "Drywall & Insulation",
	ProjectSeparateEntrance:  "Separate Entrance Addition",

	UrgencyASAP:       "ASAP",
	UrgencyOneToThree: "1-3 months",
}

// OptionLabel is the display label of an option value. Unknown values are
// returned with underscores turned into spaces.
func OptionLabel(v string) string {
	if l, ok := optionLabels[v]; ok {
		return l
	}
	return strings.ReplaceAll(v, "_", " ")
}

// PodFormData is the Pod Estimator wizard state.
type PodFormData struct {
	UseCase           string `json:"use_case,omitempty" validate:"required,oneof=home_office home_gym side_business other"`
	AdditionalDetails string `json:"additional_details,omitempty" validate:"omitempty,max=2000"`
	ExteriorColor     string `json:"exterior_color,omitempty" validate:"required,oneof=light brown dark"`
	Flooring          string `json:"flooring,omitempty" validate:"required,oneof=carpet vinyl concrete"`
	Hvac              string `json:"hvac,omitempty" validate:"required,oneof=yes no"`
	Email             string `json:"email,omitempty" validate:"required,email,max=254"`

	FullAddress string   `json:"full_address,omitempty" validate:"required,notblank,max=300"`
	Lat         *float64 `json:"lat,omitempty" validate:"required,latitude"`
	Lng         *float64 `json:"lng,omitempty" validate:"required,longitude"`
	City        string   `json:"city,omitempty" validate:"omitempty,max=100"`
	Province    string   `json:"province,omitempty" validate:"omitempty,max=50"`
	PostalCode  string   `json:"postal_code,omitempty" validate:"omitempty,max=12"`

	FullName string `json:"full_name,omitempty" validate:"required,notblank,max=120"`
	Phone    string `json:"phone,omitempty" validate:"required,phone_digits"`
}

func (PodFormData) Funnel() FunnelType { return FunnelPod }

func (p PodFormData) ContactEmail() string { return p.Email }

func (p PodFormData) Address() Address {
	return Address{
		FullAddress: p.FullAddress,
		Lat:         p.Lat,
		Lng:         p.Lng,
		City:        p.City,
		Province:    p.Province,
		PostalCode:  p.PostalCode,
	}
}

func (p PodFormData) Contact() Contact {
	return Contact{FullName: p.FullName, Phone: p.Phone}
}

// HasHVAC reports whether the heating and cooling option was chosen.
func (p PodFormData) HasHVAC() bool {
	return p.Hvac == HVACYes
}

// BasementFormData is the Basement Suite inquiry wizard state.
type BasementFormData struct {
	ProjectTypes          []string `json:"project_types,omitempty" validate:"required,min=1,dive,oneof=full_remodel bathroom_addition flooring_carpeting drywall_insulation separate_entrance other"`
	NeedsSeparateEntrance *bool    `json:"needs_separate_entrance,omitempty" validate:"required"`
	HasPlanDesign         *bool    `json:"has_plan_design,omitempty" validate:"required"`
	ProjectUrgency        string   `json:"project_urgency,omitempty" validate:"required,oneof=asap 1-3_months"`
	AdditionalDetails     string   `json:"additional_details,omitempty" validate:"omitempty,max=2000"`
	ProjectLocation       string   `json:"project_location,omitempty" validate:"required,notblank,max=300"`
	Email                 string   `json:"email,omitempty" validate:"required,email,max=254"`

	FullName string `json:"full_name,omitempty" validate:"required,notblank,max=120"`
	Phone    string `json:"phone,omitempty" validate:"required,phone_digits"`
}

func (BasementFormData) Funnel() FunnelType { return FunnelBasement }

func (b BasementFormData) ContactEmail() string { return b.Email }

func (b BasementFormData) Address() Address {
	return Address{FullAddress: strings.TrimSpace(b.ProjectLocation)}
}

func (b BasementFormData) Contact() Contact {
	return Contact{FullName: b.FullName, Phone: b.Phone}
}

// IsUrgent reports whether the visitor asked for the work as soon as possible.
func (b BasementFormData) IsUrgent() bool {
	return b.ProjectUrgency == UrgencyASAP
}

// ProjectTypeLabels returns the display labels of the selected project types.
func (b BasementFormData) ProjectTypeLabels() []string {
	out := make([]string, len(b.ProjectTypes))
	for i, v := range b.ProjectTypes {
		out[i] = OptionLabel(v)
	}
	return out
}
