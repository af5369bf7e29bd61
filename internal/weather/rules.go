package weather

import (
	"fmt"
	"os"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// Thresholds are simple comparison limits. A nil field is disabled.
type Thresholds struct {
	MaxTempC       *float64
	MinTempC       *float64
	MaxWindMps     *float64
	MaxHumidityPct *int
}

// Alert is one rule that fired for a reading.
type Alert struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ExprRule is a named boolean expression over the reading, e.g. `wind > 12 && temp < 0`.
type ExprRule struct {
	Name    string `yaml:"name"`
	Expr    string `yaml:"expr"`
	Message string `yaml:"message"`
}

type ruleEnv struct {
	Temp        float64 `expr:"temp"`
	FeelsLike   float64 `expr:"feels_like"`
	Humidity    int     `expr:"humidity"`
	Pressure    int     `expr:"pressure"`
	Wind        float64 `expr:"wind"`
	Visibility  int     `expr:"visibility"`
	Description string  `expr:"description"`
	City        string  `expr:"city"`
}

type compiledRule struct {
	ExprRule
	program *vm.Program
}

// Rules evaluates thresholds and expression rules against readings.
type Rules struct {
	thresholds Thresholds
	exprs      []compiledRule
}

func NewRules(t Thresholds, exprRules ...ExprRule) (*Rules, error) {
	r := &Rules{thresholds: t}
	seen := map[string]bool{}
	for _, er := range exprRules {
		if er.Name == "" {
			return nil, fmt.Errorf("weather rule %q: name is required", er.Expr)
		}
		if seen[er.Name] {
			return nil, fmt.Errorf("duplicate weather rule %q", er.Name)
		}
		seen[er.Name] = true
		prog, err := expr.Compile(er.Expr, expr.Env(ruleEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("weather rule %q: %w", er.Name, err)
		}
		r.exprs = append(r.exprs, compiledRule{ExprRule: er, program: prog})
	}
	return r, nil
}

// LoadExprRules reads `rules:` entries from a YAML file.
func LoadExprRules(path string) ([]ExprRule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weather rules: %w", err)
	}
	var f struct {
		Rules []ExprRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse weather rules: %w", err)
	}
	return f.Rules, nil
}

// Evaluate returns the alerts that fire for r, thresholds first, then
// expression rules in declaration order.
func (rs *Rules) Evaluate(r Reading) ([]Alert, error) {
	var alerts []Alert
	t := rs.thresholds
	if t.MaxTempC != nil && r.TemperatureC > *t.MaxTempC {
		alerts = append(alerts, Alert{Rule: "max_temp", Message: fmt.Sprintf("Temperature above %.1f°C", *t.MaxTempC)})
	}
	if t.MinTempC != nil && r.TemperatureC < *t.MinTempC {
		alerts = append(alerts, Alert{Rule: "min_temp", Message: fmt.Sprintf("Temperature below %.1f°C", *t.MinTempC)})
	}
	if t.MaxWindMps != nil && r.WindSpeedMps > *t.MaxWindMps {
		alerts = append(alerts, Alert{Rule: "max_wind", Message: fmt.Sprintf("Wind above %.1f m/s", *t.MaxWindMps)})
	}
	if t.MaxHumidityPct != nil && r.Humidity > *t.MaxHumidityPct {
		alerts = append(alerts, Alert{Rule: "max_humidity", Message: fmt.Sprintf("Humidity above %d%%", *t.MaxHumidityPct)})
	}

	env := ruleEnv{
		Temp:        r.TemperatureC,
		FeelsLike:   r.FeelsLikeC,
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		Wind:        r.WindSpeedMps,
		Visibility:  r.Visibility,
		Description: r.Description,
		City:        r.City,
	}
	for _, cr := range rs.exprs {
		out, err := expr.Run(cr.program, env)
		if err != nil {
			return alerts, fmt.Errorf("weather rule %q: %w", cr.Name, err)
		}
		if fired, _ := out.(bool); fired {
			msg := cr.Message
			if msg == "" {
				msg = cr.Name
			}
			alerts = append(alerts, Alert{Rule: cr.Name, Message: msg})
		}
	}
	return alerts, nil
}

// alertKey is a stable identity for a set of alerts.
func alertKey(alerts []Alert) string {
	names := make([]string, 0, len(alerts))
	for _, a := range alerts {
		names = append(names, a.Rule)
	}
	sort.Strings(names)
	return fmt.Sprint(names)
}
