// Copyright (c) 2026 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package config decodes client and server settings from YAML or from
// already parsed maps.
//
// Fields are matched by their `config` tags. String fields tagged with the
// "interpolate" option have ${VAR} and ${VAR:default} references replaced
// from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/uber-go/mapdecode"
	"gopkg.in/yaml.v2"
)

const (
	_tagName           = "config"
	_interpolateOption = "interpolate"
)

// LookupFunc resolves environment variables.
type LookupFunc func(name string) (string, bool)

// DecodeInto decodes src into dst using `config` tags.
func DecodeInto(dst interface{}, src interface{}, opts ...mapdecode.Option) error {
	opts = append(opts, mapdecode.TagName(_tagName))
	return mapdecode.Decode(dst, src, opts...)
}

// InterpolateWith expands variables in fields marked "interpolate".
func InterpolateWith(lookup LookupFunc) mapdecode.Option {
	return mapdecode.FieldHook(func(dest reflect.StructField, srcData reflect.Value) (reflect.Value, error) {
		if !hasOption(dest.Tag.Get(_tagName), _interpolateOption) {
			return srcData, nil
		}

		v, ok := srcData.Interface().(string)
		if !ok {
			return srcData, nil
		}

		out, err := interpolate(v, lookup)
		if err != nil {
			return srcData, fmt.Errorf("failed to render %q with environment variables: %v", v, err)
		}
		return reflect.ValueOf(out), nil
	})
}

func hasOption(tag, option string) bool {
	for _, o := range strings.Split(tag, ",")[1:] {
		if o == option {
			return true
		}
	}
	return false
}

// interpolate replaces ${NAME} and ${NAME:default}. A reference to an unset
// variable without a default is an error.
func interpolate(s string, lookup LookupFunc) (string, error) {
	var missing []string
	out := os.Expand(s, func(ref string) string {
		name, def, hasDefault := strings.Cut(ref, ":")
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("variables not set: %v", strings.Join(missing, ", "))
	}
	return out, nil
}

// readYAML parses YAML into a generic map.
func readYAML(r io.Reader) (map[string]interface{}, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	return data, nil
}
