package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire decoding for experiment definitions
//
// Clients describe a new experiment with two loosely typed JSON blobs. These
// helpers turn them into validated values or fail with ErrInvalidParams so
// malformed input never reaches the store.

// ErrInvalidParams is wrapped by every error returned from the parse helpers.
var ErrInvalidParams = errors.New("invalid experiment parameters")

// DefaultAlternatives returns the alternatives used when a creator supplies none:
// true and false with equal weight.
func DefaultAlternatives() []Alternative {
	return []Alternative{
		{Value: json.RawMessage("true"), Weight: 1},
		{Value: json.RawMessage("false"), Weight: 1},
	}
}

// ParseAlternatives decodes alternative params. Accepted shapes:
//   - array of JSON values, equal weights: ["red", "blue"]
//   - array of objects: [{"value": "red", "weight": 2}, {"value": "blue"}]
//   - object of value to weight, in written order: {"red": 2, "blue": 1}
//
// The result is validated with ValidateAlternatives.
func ParseAlternatives(raw []byte) ([]Alternative, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: alternative_params is empty", ErrInvalidParams)
	}

	var (
		alts []Alternative
		err  error
	)
	switch raw[0] {
	case '[':
		alts, err = parseAlternativeList(raw)
	case '{':
		alts, err = parseAlternativeObject(raw)
	default:
		return nil, fmt.Errorf("%w: alternative_params must be a JSON array or object", ErrInvalidParams)
	}
	if err != nil {
		return nil, err
	}

	if err := ValidateAlternatives(alts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return alts, nil
}

func parseAlternativeList(raw []byte) ([]Alternative, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: alternative_params: %w", ErrInvalidParams, err)
	}

	alts := make([]Alternative, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var entry struct {
				Value  json.RawMessage `json:"value"`
				Weight *float64        `json:"weight"`
			}
			if err := json.Unmarshal(item, &entry); err != nil {
				return nil, fmt.Errorf("%w: alternative_params[%d]: %w", ErrInvalidParams, i, err)
			}
			if len(entry.Value) == 0 {
				return nil, fmt.Errorf("%w: alternative_params[%d]: missing value", ErrInvalidParams, i)
			}
			weight := 1.0
			if entry.Weight != nil {
				weight = *entry.Weight
			}
			value, err := canonicalJSON(entry.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: alternative_params[%d]: %w", ErrInvalidParams, i, err)
			}
			alts = append(alts, Alternative{Value: value, Weight: weight})
			continue
		}

		value, err := canonicalJSON(item)
		if err != nil {
			return nil, fmt.Errorf("%w: alternative_params[%d]: %w", ErrInvalidParams, i, err)
		}
		alts = append(alts, Alternative{Value: value, Weight: 1})
	}
	return alts, nil
}

// parseAlternativeObject walks the object token by token so the written key
// order becomes the alternative order.
func parseAlternativeObject(raw []byte) ([]Alternative, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: alternative_params: %w", ErrInvalidParams, err)
	}

	var alts []Alternative
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: alternative_params: %w", ErrInvalidParams, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: alternative_params: unexpected token %v", ErrInvalidParams, tok)
		}

		var weight json.Number
		if err := dec.Decode(&weight); err != nil {
			return nil, fmt.Errorf("%w: alternative_params[%q]: weight must be a number", ErrInvalidParams, key)
		}
		w, err := weight.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: alternative_params[%q]: %w", ErrInvalidParams, key, err)
		}

		value, err := encodeJSON(key)
		if err != nil {
			return nil, fmt.Errorf("%w: alternative_params[%q]: %w", ErrInvalidParams, key, err)
		}
		alts = append(alts, Alternative{Value: value, Weight: w})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: alternative_params: %w", ErrInvalidParams, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: alternative_params: trailing data", ErrInvalidParams)
	}
	return alts, nil
}

// ParseConversionNames decodes a JSON list of strings, or a single JSON string.
// An empty list is valid and means the experiment listens for nothing.
func ParseConversionNames(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: conversion_names is empty", ErrInvalidParams)
	}

	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, fmt.Errorf("%w: conversion_names: %w", ErrInvalidParams, err)
		}
		if name == "" {
			return nil, fmt.Errorf("%w: conversion_names: empty name", ErrInvalidParams)
		}
		return []string{name}, nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("%w: conversion_names must be a list of strings: %w", ErrInvalidParams, err)
	}
	if names == nil {
		return nil, fmt.Errorf("%w: conversion_names must be a list of strings", ErrInvalidParams)
	}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: conversion_names[%d] is empty", ErrInvalidParams, i)
		}
	}
	return names, nil
}

// canonicalJSON re-encodes a JSON value so equal values share one text:
// object keys sorted, no insignificant whitespace and numbers in their
// shortest float64 form.
func canonicalJSON(raw []byte) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return encodeJSON(v)
}

func encodeJSON(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
