package models

import (
	"fmt"
	"strings"
)

// FunnelType identifies one of the lead-capture wizards.
type FunnelType string

const (
	FunnelPod      FunnelType = "pod"
	FunnelBasement FunnelType = "basement"
)

// StepDefinition describes a single wizard step.
type StepDefinition struct {
	Number int
	// Name is the stable step id reported with analytics, e.g. EMAIL_CAPTURE.
	Name  string
	Title string
	// Fields lists the form fields (struct field names) that must be valid
	// before the step can be completed.
	Fields []string
}

// Definition is the static shape of a funnel: its URL slug, its ordered
// steps and which steps drive the lead protocol.
type Definition struct {
	Type      FunnelType
	Slug      string
	Label     string
	Steps     []StepDefinition
	EmailStep int
	FinalStep int
}

var definitions = map[FunnelType]Definition{
	FunnelPod: {
		Type:  FunnelPod,
		Slug:  "pod",
		Label: "Backyard Pod",
		Steps: []StepDefinition{
			{Number: 1, Name: "INTENT", Title: "How will you use your pod?", Fields: []string{"UseCase", "AdditionalDetails"}},
			{Number: 2, Name: "COLOR", Title: "Exterior color", Fields: []string{"ExteriorColor"}},
			{Number: 3, Name: "FLOORING", Title: "Flooring", Fields: []string{"Flooring"}},
			{Number: 4, Name: "HVAC", Title: "Heating & cooling", Fields: []string{"Hvac"}},
			{Number: 5, Name: "EMAIL_CAPTURE", Title: "Where should we send your estimate?", Fields: []string{"Email"}},
			{Number: 6, Name: "RESULT", Title: "Your estimate"},
			{Number: 7, Name: "ADDRESS", Title: "Installation address", Fields: []string{"FullAddress", "Lat", "Lng", "City", "Province", "PostalCode"}},
			{Number: 8, Name: "CONTACT", Title: "Contact details", Fields: []string{"FullName", "Phone"}},
		},
		EmailStep: 5,
		FinalStep: 8,
	},
	FunnelBasement: {
		Type:  FunnelBasement,
		Slug:  "basement-suite",
		Label: "Basement Suite",
		Steps: []StepDefinition{
			{Number: 1, Name: "PROJECT_TYPES", Title: "What are you looking to do?", Fields: []string{"ProjectTypes"}},
			{Number: 2, Name: "SEPARATE_ENTRANCE", Title: "Do you need a separate entrance?", Fields: []string{"NeedsSeparateEntrance"}},
			{Number: 3, Name: "PLAN_DESIGN", Title: "Do you have plans or designs?", Fields: []string{"HasPlanDesign"}},
			{Number: 4, Name: "PROJECT_URGENCY", Title: "When do you want to start?", Fields: []string{"ProjectUrgency"}},
			{Number: 5, Name: "ADDITIONAL_DETAILS", Title: "Anything else we should know?", Fields: []string{"AdditionalDetails"}},
			{Number: 6, Name: "PROJECT_LOCATION", Title: "Where is the project?", Fields: []string{"ProjectLocation"}},
			{Number: 7, Name: "EMAIL", Title: "Your email", Fields: []string{"Email"}},
			{Number: 8, Name: "CONTACT", Title: "Contact details", Fields: []string{"FullName", "Phone"}},
		},
		EmailStep: 7,
		FinalStep: 8,
	},
}

// FunnelTypes returns every known funnel type in a stable order.
func FunnelTypes() []FunnelType {
	return []FunnelType{FunnelPod, FunnelBasement}
}

// Lookup returns the definition for a funnel type.
func Lookup(t FunnelType) (Definition, bool) {
	d, ok := definitions[t]
	return d, ok
}

// LookupSlug resolves a URL slug ("pod", "basement-suite") or a raw funnel
// type name to its definition.
func LookupSlug(slug string) (Definition, bool) {
	slug = strings.ToLower(strings.Trim(slug, "/"))
	for _, d := range definitions {
		if d.Slug == slug || string(d.Type) == slug {
			return d, true
		}
	}
	return Definition{}, false
}

// ParseFunnelType validates a funnel type name.
func ParseFunnelType(s string) (FunnelType, error) {
	d, ok := LookupSlug(s)
	if !ok {
		return "", fmt.Errorf("unknown funnel type %q", s)
	}
	return d.Type, nil
}

// TotalSteps is the number of steps in the funnel.
func (d Definition) TotalSteps() int {
	return len(d.Steps)
}

// Step returns the definition of step n (1-based).
func (d Definition) Step(n int) (StepDefinition, bool) {
	if n < 1 || n > len(d.Steps) {
		return StepDefinition{}, false
	}
	return d.Steps[n-1], true
}

// StepName returns the id of step n, or "" when out of range.
func (d Definition) StepName(n int) string {
	s, ok := d.Step(n)
	if !ok {
		return ""
	}
	return s.Name
}

// StepPath is the page path of step n, e.g. /basement-suite/step-4.
func (d Definition) StepPath(n int) string {
	return fmt.Sprintf("/%s/step-%d", d.Slug, n)
}

// StepTitle returns the heading shown on step n.
func (d Definition) StepTitle(n int) string {
	s, ok := d.Step(n)
	if !ok {
		return ""
	}
	return s.Title
}

// ConfirmationPath is the page reached after a successful submission.
func (d Definition) ConfirmationPath() string {
	return fmt.Sprintf("/%s/confirmation", d.Slug)
}
