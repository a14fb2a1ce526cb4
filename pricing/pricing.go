// Package pricing turns funnel answers into a rough price range. Everything
// here is a pure function over static tables.
package pricing

import (
	"math"

	"leadfunnel/models"
)

const Currency = "CAD"

// Range is a low/high pair in whole dollars.
type Range struct {
	Low, High int64
}

var (
	// Standard 160 sq ft pod, delivered and installed.
	podBase = Range{Low: 19000, High: 25000}

	podFlooring = map[string]int64{
		models.FlooringCarpet:   0,
		models.FlooringVinyl:    800,
		models.FlooringConcrete: 1500,
	}
	podHVAC = map[string]int64{
		models.HVACYes: 3000,
		models.HVACNo:  0,
	}
	podColor = map[string]int64{
		models.ColorLight: 0,
		models.ColorBrown: 0,
		models.ColorDark:  0,
	}

	// Basement suites are quoted as a legal basement unit once the visitor
	// names concrete work, and as an open consultation otherwise.
	basementUnit         = Range{Low: 60000, High: 120000}
	basementConsultation = Range{Low: 50000, High: 200000}
)

// Estimate prices a configuration. Unknown or missing answers contribute
// nothing rather than failing; the range is only indicative.
func Estimate(data models.FormData) models.Estimate {
	var r Range
	switch d := data.(type) {
	case models.PodFormData:
		r = podRange(d)
	case *models.PodFormData:
		r = podRange(*d)
	case models.BasementFormData:
		r = basementRange(d)
	case *models.BasementFormData:
		r = basementRange(*d)
	default:
		return models.Estimate{Currency: Currency}
	}
	return models.Estimate{Low: r.Low, High: r.High, Currency: Currency}
}

func podRange(d models.PodFormData) Range {
	r := podBase
	for _, extra := range []int64{podFlooring[d.Flooring], podHVAC[d.Hvac], podColor[d.ExteriorColor]} {
		r.Low += extra
		r.High += extra
	}
	return r
}

func basementRange(d models.BasementFormData) Range {
	r := basementConsultation
	for _, t := range d.ProjectTypes {
		if t != models.OptionOther {
			r = basementUnit
			break
		}
	}
	return Range{Low: roundThousand(r.Low), High: roundThousand(r.High)}
}

func roundThousand(v int64) int64 {
	return int64(math.Round(float64(v)/1000) * 1000)
}
