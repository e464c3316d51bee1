package catalog

import "testing"

func TestHandle(t *testing.T) {
	h := NewHandle()

	if h.Get() == nil {
		t.Fatal("new handle holds nil catalog")
	}
	if h.Get().Len() != 0 {
		t.Errorf("new handle catalog Len() = %d, want 0", h.Get().Len())
	}

	h.Replace(New([]Record{NewRecord("Engine Overheating", "", "Check coolant")}))
	if h.Get().Len() != 1 {
		t.Errorf("after Replace, Len() = %d, want 1", h.Get().Len())
	}
	if _, ok := h.Get().Get("Engine Overheating"); !ok {
		t.Error("replaced catalog missing record")
	}

	h.Clear()
	if h.Get() == nil || h.Get().Len() != 0 {
		t.Error("Clear did not install an empty catalog")
	}

	// Replacing with nil keeps readers safe.
	h.Replace(nil)
	if h.Get() == nil {
		t.Error("Replace(nil) left a nil catalog")
	}
}
