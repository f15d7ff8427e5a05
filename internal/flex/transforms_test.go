package flex

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestTransformParseInt(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	RegisterTransforms(L)

	tests := []struct {
		input    string
		expected int64
	}{
		{"123", 123},
		{"-456", -456},
		{"  789  ", 789},
		{"3.14", 3},
		{"abc", 0},
		{"", 0},
	}

	for _, tt := range tests {
		if err := L.DoString(`result = parse_int("` + tt.input + `")`); err != nil {
			t.Fatalf("failed to call parse_int: %v", err)
		}
		result := int64(L.GetGlobal("result").(lua.LNumber))
		if result != tt.expected {
			t.Errorf("parse_int(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}

	if err := L.DoString(`result = tilequeue.transforms.parse_int("invalid", 42)`); err != nil {
		t.Fatalf("failed to call parse_int with default: %v", err)
	}
	if got := int64(L.GetGlobal("result").(lua.LNumber)); got != 42 {
		t.Errorf("parse_int with default = %d, want 42", got)
	}
}

func TestTransformParseBool(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	RegisterTransforms(L)

	tests := []struct {
		input    string
		expected bool
	}{
		{"yes", true},
		{"TRUE", true},
		{"1", true},
		{"designated", true},
		{"no", false},
		{"0", false},
		{"", false},
	}
	for _, tt := range tests {
		if err := L.DoString(`result = parse_bool("` + tt.input + `")`); err != nil {
			t.Fatalf("failed to call parse_bool: %v", err)
		}
		if got := lua.LVAsBool(L.GetGlobal("result")); got != tt.expected {
			t.Errorf("parse_bool(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestTransformGetName(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	RegisterTransforms(L)

	tests := []struct {
		code     string
		expected string
	}{
		{`result = get_name({name = "Main", ["name:en"] = "Main EN"})`, "Main"},
		{`result = get_name({int_name = "Intl"})`, "Intl"},
		{`result = get_name({["name:en"] = "English"})`, "English"},
		{`result = get_name({}) or "none"`, "none"},
	}
	for _, tt := range tests {
		if err := L.DoString(tt.code); err != nil {
			t.Fatalf("%s: %v", tt.code, err)
		}
		if got := L.GetGlobal("result").String(); got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.code, got, tt.expected)
		}
	}
}

func TestRoadSortKey(t *testing.T) {
	tests := []struct {
		tags     map[string]string
		expected int
	}{
		{map[string]string{"highway": "motorway"}, 380},
		{map[string]string{"highway": "unknown"}, 300},
		{map[string]string{"railway": "rail"}, 440},
		{map[string]string{"highway": "primary", "railway": "tram"}, 410},
		{map[string]string{"highway": "primary", "bridge": "yes"}, 460},
		{map[string]string{"highway": "primary", "tunnel": "yes", "layer": "-1"}, 250},
		{map[string]string{"highway": "primary", "layer": "99"}, 410},
		{map[string]string{}, 0},
	}
	for _, tt := range tests {
		if got := RoadSortKey(tt.tags); got != tt.expected {
			t.Errorf("RoadSortKey(%v) = %d, want %d", tt.tags, got, tt.expected)
		}
	}
}

func TestTransformClamp(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	RegisterTransforms(L)

	if err := L.DoString(`a = clamp(20, 0, 16); b = clamp(-1, 0, 16); c = clamp(7.5, 0, 16)`); err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]float64{"a": 16, "b": 0, "c": 7.5} {
		if got := float64(L.GetGlobal(name).(lua.LNumber)); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}
