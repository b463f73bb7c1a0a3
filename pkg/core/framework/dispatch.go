// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package framework

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/multiframe/backends"
	"github.com/gomlx/multiframe/pkg/core/errdefs"
)

// maxScanDepth limits the recursion into nested arguments.
const maxScanDepth = 64

// CurrentFramework returns the framework on top of the stack. If the stack is empty, it returns the
// framework of the first array found in args, scanning recursively into slices, arrays, maps, calls and
// backends.Composite values.
//
// It returns an ErrDispatch, with the arguments in the message, if no framework can be resolved.
func (r *Registry) CurrentFramework(args ...any) (backends.Backend, error) {
	if top := r.top(); top != nil {
		return top, nil
	}
	if name, found := findFramework(reflect.ValueOf(args), 0); found {
		return r.loadByName(name)
	}
	return nil, errdefs.Dispatchf("no framework set, and no array of a registered framework in the arguments %s",
		describeArgs(args))
}

// findFramework returns the framework tag of the first registered array found in v.
func findFramework(v reflect.Value, depth int) (string, bool) {
	if !v.IsValid() || depth > maxScanDepth {
		return "", false
	}
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case backends.Array:
			if !isNil(v) && backends.IsRegistered(x.Framework()) {
				return x.Framework(), true
			}
			return "", false
		case *backends.Call:
			if x == nil {
				return "", false
			}
			if x.Out != nil {
				if name, found := findFramework(reflect.ValueOf(x.Out), depth+1); found {
					return name, true
				}
			}
			if name, found := findFramework(reflect.ValueOf(x.Args), depth+1); found {
				return name, true
			}
			return findFramework(reflect.ValueOf(x.Params), depth+1)
		case backends.Composite:
			if isNil(v) {
				return "", false
			}
			return findFramework(reflect.ValueOf(x.Values()), depth+1)
		}
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return "", false
		}
		return findFramework(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		for ii := range v.Len() {
			if name, found := findFramework(v.Index(ii), depth+1); found {
				return name, true
			}
		}
	case reflect.Map:
		// Keys are visited in a deterministic order.
		keys := v.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			sa, sb := fmt.Sprint(a), fmt.Sprint(b)
			switch {
			case sa < sb:
				return -1
			case sa > sb:
				return 1
			}
			return 0
		})
		for _, key := range keys {
			if name, found := findFramework(v.MapIndex(key), depth+1); found {
				return name, true
			}
		}
	}
	return "", false
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func describeArgs(args []any) string {
	if len(args) == 1 {
		if call, ok := args[0].(*backends.Call); ok && call != nil {
			return fmt.Sprintf("(args=%v, params=%v)", call.Args, call.Params)
		}
	}
	return fmt.Sprintf("%v", args)
}
