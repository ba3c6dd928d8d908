package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SliceMode selects which window of a document a field group sees.
type SliceMode string

const (
	SliceFull  SliceMode = "full"
	SliceHead  SliceMode = "head"
	SliceTail  SliceMode = "tail"
	SliceRange SliceMode = "range"
)

// DocumentSlice selects a sub-window of a document, counted in characters.
// The zero value extracts the full document, but only FullSlice compares equal
// to other full slices. Two slices are equal only when their resolved
// parameters coincide.
type DocumentSlice struct {
	Mode  SliceMode
	Size  int // head/tail window; 0 means the whole text
	Start int // range start, negative counts from the end
	End   int // range end, meaningful only when HasEnd is set

	HasEnd bool
}

func FullSlice() DocumentSlice { return DocumentSlice{Mode: SliceFull} }

func HeadSlice(size int) DocumentSlice { return DocumentSlice{Mode: SliceHead, Size: size} }

func TailSlice(size int) DocumentSlice { return DocumentSlice{Mode: SliceTail, Size: size} }

// RangeSlice selects text[start:end].
func RangeSlice(start, end int) DocumentSlice {
	return DocumentSlice{Mode: SliceRange, Start: start, End: end, HasEnd: true}
}

// RangeFrom selects text[start:].
func RangeFrom(start int) DocumentSlice {
	return DocumentSlice{Mode: SliceRange, Start: start}
}

// SliceFromMap builds a slice from a configuration object. Without an explicit
// "mode", start/end imply range, a lone size implies tail, and anything else is
// the full document.
func SliceFromMap(m map[string]any) (DocumentSlice, error) {
	if len(m) == 0 {
		return FullSlice(), nil
	}

	var mode SliceMode
	if raw, ok := m["mode"]; ok && raw != nil {
		mode = SliceMode(strings.ToLower(fmt.Sprint(raw)))
	} else {
		_, hasStart := m["start"]
		_, hasEnd := m["end"]
		_, hasSize := m["size"]
		switch {
		case hasStart || hasEnd:
			mode = SliceRange
		case hasSize:
			mode = SliceTail
		default:
			mode = SliceFull
		}
	}

	switch mode {
	case SliceFull, SliceHead, SliceTail, SliceRange:
	default:
		return DocumentSlice{}, fmt.Errorf("unsupported document slice mode: %s", mode)
	}

	s := DocumentSlice{Mode: mode}
	if v, ok, err := intParam(m, "size"); err != nil {
		return DocumentSlice{}, err
	} else if ok {
		if v <= 0 {
			return DocumentSlice{}, errors.New("slice size must be positive")
		}
		s.Size = v
	}
	if v, ok, err := intParam(m, "start"); err != nil {
		return DocumentSlice{}, err
	} else if ok {
		s.Start = v
	}
	if v, ok, err := intParam(m, "end"); err != nil {
		return DocumentSlice{}, err
	} else if ok {
		s.End, s.HasEnd = v, true
	}
	return s, nil
}

func intParam(m map[string]any, key string) (int, bool, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, false, fmt.Errorf("slice %s must be an integer, got %v", key, v)
		}
		return int(v), true, nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, false, fmt.Errorf("slice %s must be an integer: %w", key, err)
		}
		return n, true, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false, fmt.Errorf("slice %s must be an integer: %w", key, err)
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("slice %s must be an integer, got %T", key, raw)
}

// Extract returns the selected window of text. It never mutates its input.
func (s DocumentSlice) Extract(text string) string {
	if text == "" {
		return text
	}
	switch s.Mode {
	case SliceHead:
		if s.Size <= 0 {
			return text
		}
		r := []rune(text)
		return string(r[:min(s.Size, len(r))])
	case SliceTail:
		if s.Size <= 0 {
			return text
		}
		r := []rune(text)
		return string(r[len(r)-min(s.Size, len(r)):])
	case SliceRange:
		r := []rune(text)
		start := clampIndex(s.Start, len(r))
		end := len(r)
		if s.HasEnd {
			end = clampIndex(s.End, len(r))
		}
		if start >= end {
			return ""
		}
		return string(r[start:end])
	}
	return text
}

// clampIndex resolves negative indexes from the end and clamps to [0, n].
func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	return max(0, min(i, n))
}

func (s DocumentSlice) String() string {
	switch s.Mode {
	case SliceHead, SliceTail:
		if s.Size <= 0 {
			return string(s.Mode)
		}
		return fmt.Sprintf("%s(%d)", s.Mode, s.Size)
	case SliceRange:
		if s.HasEnd {
			return fmt.Sprintf("range(%d:%d)", s.Start, s.End)
		}
		return fmt.Sprintf("range(%d:)", s.Start)
	}
	return string(SliceFull)
}

func (s DocumentSlice) MarshalJSON() ([]byte, error) {
	out := map[string]any{"mode": s.Mode}
	if s.Mode == "" {
		out["mode"] = SliceFull
	}
	if s.Size > 0 {
		out["size"] = s.Size
	}
	if s.Mode == SliceRange {
		out["start"] = s.Start
		if s.HasEnd {
			out["end"] = s.End
		}
	}
	return json.Marshal(out)
}
