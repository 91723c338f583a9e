// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// capture redirects output for the duration of f at the given level.
func capture(t *testing.T, level PersonalityLevel, f func()) (string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := Stdout(), Stderr()
	prev := GetPersonality()
	SetOutput(&out, &errOut)
	SetPersonalityLevel(level)
	defer func() {
		SetOutput(prevOut, prevErr)
		SetPersonality(prev)
	}()
	f()
	return out.String(), errOut.String()
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow, IconTrophy} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render() of %q lost the glyph", icon)
		}
	}
}

func TestSuccess_Machine(t *testing.T) {
	out, _ := capture(t, PersonalityMachine, func() { Success("saved") })
	if out != "OK: saved\n" {
		t.Errorf("got %q", out)
	}
}

func TestWarningAndError_MachineGoToStderr(t *testing.T) {
	out, errOut := capture(t, PersonalityMachine, func() {
		Warning("slow")
		Error("broken")
	})
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}
	if errOut != "WARN: slow\nERROR: broken\n" {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestError_AlwaysStderr(t *testing.T) {
	out, errOut := capture(t, PersonalityFull, func() { Error("bad") })
	if out != "" || !strings.Contains(errOut, "bad") {
		t.Errorf("stdout=%q stderr=%q", out, errOut)
	}
}

func TestTitleAndMuted_SilentInMachineMode(t *testing.T) {
	out, _ := capture(t, PersonalityMachine, func() {
		Title("Header")
		Muted("hint")
	})
	if out != "" {
		t.Errorf("got %q, want nothing", out)
	}

	out, _ = capture(t, PersonalityStandard, func() { Title("Header") })
	if !strings.Contains(out, "Header") {
		t.Errorf("got %q", out)
	}
}

func TestKeyValue(t *testing.T) {
	out, _ := capture(t, PersonalityMachine, func() { KeyValue("rows", 3214) })
	if out != "rows=3214\n" {
		t.Errorf("machine: got %q", out)
	}

	out, _ = capture(t, PersonalityStandard, func() { KeyValue("rows", 3214) })
	if !strings.Contains(out, "rows:") || !strings.Contains(out, "3214") {
		t.Errorf("standard: got %q", out)
	}
}

func TestBlock_AddsTrailingNewline(t *testing.T) {
	out, _ := capture(t, PersonalityFull, func() {
		Block("a")
		Block("b\n")
		Block("")
	})
	if out != "a\nb\n" {
		t.Errorf("got %q", out)
	}
}

func TestBox(t *testing.T) {
	out, _ := capture(t, PersonalityMachine, func() { Box("Winner", "random_forest") })
	if out != "Winner: random_forest\n" {
		t.Errorf("got %q", out)
	}

	out, _ = capture(t, PersonalityFull, func() { Box("Winner", "random_forest") })
	if !strings.Contains(out, "Winner") || !strings.Contains(out, "random_forest") {
		t.Errorf("got %q", out)
	}
}

func TestWarningBox_Machine(t *testing.T) {
	_, errOut := capture(t, PersonalityMachine, func() { WarningBox("Sanity", "below baseline") })
	if errOut != "WARN Sanity: below baseline\n" {
		t.Errorf("got %q", errOut)
	}
}

func TestProgressBar(t *testing.T) {
	var got string
	capture(t, PersonalityMachine, func() { got = ProgressBar(3, 10, 20) })
	if got != "3/10" {
		t.Errorf("machine: got %q", got)
	}

	capture(t, PersonalityFull, func() { got = ProgressBar(5, 10, 10) })
	if !strings.Contains(got, "50%") {
		t.Errorf("full: got %q", got)
	}
}

func TestWithSpinner_Machine(t *testing.T) {
	var err error
	out, errOut := capture(t, PersonalityMachine, func() {
		err = WithSpinner("fitting", func() error { return errors.New("singular") })
	})
	if err == nil || err.Error() != "singular" {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(errOut, "PROGRESS: fitting") {
		t.Errorf("stderr = %q", errOut)
	}
	if !strings.Contains(errOut, "ERROR: fitting: singular") {
		t.Errorf("stderr = %q", errOut)
	}
	if out != "" {
		t.Errorf("stdout = %q", out)
	}
}

func TestSpinner_StopIdempotent(t *testing.T) {
	capture(t, PersonalityMachine, func() {
		s := NewSpinner("x")
		s.Stop()
		s.Start()
		s.UpdateMessage("y")
		s.Stop()
		s.Stop()
	})
}
