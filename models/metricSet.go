package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type MetricDef struct {
	Name string     `json:"name"`
	Kind MetricKind `json:"kind"`
	Unit string     `json:"unit"`
	// Inflow names the same-cycle inflow that raises the closing ceiling of a consumable.
	Inflow string `json:"inflow,omitempty"`
}

// ExtraDef is a value recorded with a reading that does not carry forward.
type ExtraDef struct {
	Name     string           `json:"name"`
	Unit     string           `json:"unit"`
	Min      *decimal.Decimal `json:"min,omitempty"`
	Max      *decimal.Decimal `json:"max,omitempty"`
	Required bool             `json:"required"`
}

type MetricSet struct {
	Code    string      `json:"code"`
	Label   string      `json:"label"`
	Metrics []MetricDef `json:"metrics"`
	Extras  []ExtraDef  `json:"extras"`
	// AnnotationOptions restricts the annotation to a pick list when set.
	// The last option may require a free-text reason after a colon.
	AnnotationOptions []string `json:"annotation_options,omitempty"`
	OtherOption       string   `json:"other_option,omitempty"`
}

const (
	MetricSetDG      = "DG"
	MetricSetEB      = "EB"
	MetricSetHighway = "HIGHWAY"
	MetricSetSolar   = "SOLAR"
)

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

var metricSets = map[string]MetricSet{
	MetricSetDG: {
		Code:  MetricSetDG,
		Label: "Diesel Generator",
		Metrics: []MetricDef{
			{Name: "diesel", Kind: MetricKindConsumable, Unit: "L", Inflow: "topup"},
			{Name: "kwh", Kind: MetricKindCounter, Unit: "kWh"},
			{Name: "rh", Kind: MetricKindDuration, Unit: "H:MM"},
		},
		Extras: []ExtraDef{
			{Name: "purchase", Unit: "L", Min: decPtr("0")},
		},
	},
	MetricSetEB: {
		Code:  MetricSetEB,
		Label: "Electricity Board Meter",
		Metrics: []MetricDef{
			{Name: "kwh", Kind: MetricKindCounter, Unit: "kWh"},
			{Name: "kvah", Kind: MetricKindCounter, Unit: "kVAh"},
		},
		Extras: []ExtraDef{
			{Name: "pf", Min: decPtr("0"), Max: decPtr("1")},
			{Name: "md", Unit: "kVA", Min: decPtr("0")},
			{Name: "solar", Unit: "kWh", Min: decPtr("0")},
		},
	},
	MetricSetHighway: {
		Code:  MetricSetHighway,
		Label: "Highway Lighting Meter",
		Metrics: []MetricDef{
			{Name: "kwh", Kind: MetricKindCounter, Unit: "kWh"},
			{Name: "kvah", Kind: MetricKindCounter, Unit: "kVAh"},
		},
		Extras: []ExtraDef{
			{Name: "pf", Min: decPtr("0"), Max: decPtr("1")},
			{Name: "md", Unit: "kVA", Min: decPtr("0")},
		},
	},
	MetricSetSolar: {
		Code:  MetricSetSolar,
		Label: "Solar Generation",
		Metrics: []MetricDef{
			{Name: "kwh", Kind: MetricKindCounter, Unit: "kWh"},
		},
		AnnotationOptions: []string{
			"Weather almost clear",
			"Cloudy day",
			"Rain",
			"Power cut",
			"Partly cloud",
			"Maintenance activity",
			"Others",
		},
		OtherOption: "Others",
	},
}

func GetMetricSet(code string) (MetricSet, bool) {
	ms, ok := metricSets[strings.ToUpper(strings.TrimSpace(code))]
	return ms, ok
}

func MetricSetCodes() []string {
	codes := make([]string, 0, len(metricSets))
	for code := range metricSets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (ms MetricSet) Metric(name string) (MetricDef, bool) {
	for _, m := range ms.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricDef{}, false
}

func (ms MetricSet) Extra(name string) (ExtraDef, bool) {
	for _, e := range ms.Extras {
		if e.Name == name {
			return e, true
		}
	}
	return ExtraDef{}, false
}

// ParseValues parses one raw text per metric. Every metric is required.
func (ms MetricSet) ParseValues(prefix string, raw map[string]string) (MetricValues, error) {
	out := make(MetricValues, len(ms.Metrics))
	for name := range raw {
		if _, ok := ms.Metric(name); !ok {
			return nil, &FormatError{Field: prefix + name, Input: raw[name], Reason: "unknown metric for " + ms.Code}
		}
	}
	for _, m := range ms.Metrics {
		v, err := ParseMetricValue(prefix+m.Name, m.Kind, raw[m.Name])
		if err != nil {
			return nil, err
		}
		if v.IsNegative() {
			return nil, &FormatError{Field: prefix + m.Name, Input: raw[m.Name], Reason: "must not be negative"}
		}
		out[m.Name] = v
	}
	return out, nil
}

// ParseInflows parses optional inflow texts keyed by inflow name; blank means zero.
func (ms MetricSet) ParseInflows(raw map[string]string) (MetricValues, error) {
	out := MetricValues{}
	known := map[string]bool{}
	for _, m := range ms.Metrics {
		if m.Inflow == "" {
			continue
		}
		known[m.Inflow] = true
		v, ok, err := ParseOptionalFieldDecimal(m.Inflow, raw[m.Inflow])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if v.IsNegative() {
			return nil, &FormatError{Field: m.Inflow, Input: raw[m.Inflow], Reason: "must not be negative"}
		}
		out[m.Inflow] = v
	}
	for name := range raw {
		if !known[name] {
			return nil, &FormatError{Field: name, Input: raw[name], Reason: "unknown inflow for " + ms.Code}
		}
	}
	return out, nil
}

// ParseExtras parses and range-checks the non carried values of a reading.
func (ms MetricSet) ParseExtras(raw map[string]string) (MetricValues, error) {
	out := MetricValues{}
	for name := range raw {
		if _, ok := ms.Extra(name); !ok {
			return nil, &FormatError{Field: name, Input: raw[name], Reason: "unknown field for " + ms.Code}
		}
	}
	for _, e := range ms.Extras {
		var (
			v   decimal.Decimal
			ok  bool
			err error
		)
		if e.Required {
			v, err = ParseFieldDecimal(e.Name, raw[e.Name])
			ok = err == nil
		} else {
			v, ok, err = ParseOptionalFieldDecimal(e.Name, raw[e.Name])
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if e.Min != nil && v.LessThan(*e.Min) {
			return nil, &FormatError{Field: e.Name, Input: raw[e.Name], Reason: fmt.Sprintf("must be >= %s", e.Min.String())}
		}
		if e.Max != nil && v.GreaterThan(*e.Max) {
			return nil, &FormatError{Field: e.Name, Input: raw[e.Name], Reason: fmt.Sprintf("must be <= %s", e.Max.String())}
		}
		out[e.Name] = v
	}
	return out, nil
}

// NormalizeAnnotation checks the annotation against the pick list, if any.
// "Others" must carry a reason, written as "Others: <reason>".
func (ms MetricSet) NormalizeAnnotation(annotation string) (string, error) {
	annotation = strings.TrimSpace(annotation)
	if len(ms.AnnotationOptions) == 0 {
		return annotation, nil
	}
	if ms.OtherOption != "" && strings.HasPrefix(annotation, ms.OtherOption) {
		reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(annotation, ms.OtherOption), ":"))
		if reason == "" {
			return "", &FormatError{Field: "annotation", Input: annotation, Reason: "reason is required for " + ms.OtherOption}
		}
		return ms.OtherOption + ": " + reason, nil
	}
	for _, opt := range ms.AnnotationOptions {
		if strings.EqualFold(opt, annotation) {
			return opt, nil
		}
	}
	return "", &FormatError{Field: "annotation", Input: annotation, Reason: "not one of the allowed remarks"}
}
