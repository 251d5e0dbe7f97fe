package cmd

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/nextlevelbuilder/dectpair/internal/device"
)

// deviceFilter is a compiled CEL predicate over device attributes, e.g.
// `vendor == "simulator" && name.startsWith("Elite")`.
type deviceFilter struct {
	expr string
	prg  cel.Program
}

func compileFilter(expr string) (*deviceFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("vendor", cel.StringType),
		cel.Variable("serial", cel.StringType),
		cel.Variable("product", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, iss.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("filter %q: must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &deviceFilter{expr: expr, prg: prg}, nil
}

func (f *deviceFilter) match(info device.Info) (bool, error) {
	out, _, err := f.prg.Eval(map[string]any{
		"id":      info.ID,
		"name":    info.Name,
		"vendor":  info.Vendor,
		"serial":  info.Serial,
		"product": int64(info.Product),
	})
	if err != nil {
		return false, fmt.Errorf("filter %q on %s: %w", f.expr, info.ID, err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

// filterDevices keeps the devices matching expr. An empty expr keeps all.
func filterDevices(devices []device.Device, expr string) ([]device.Device, error) {
	if expr == "" {
		return devices, nil
	}
	f, err := compileFilter(expr)
	if err != nil {
		return nil, err
	}
	out := make([]device.Device, 0, len(devices))
	for _, d := range devices {
		ok, err := f.match(d.Info())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}
