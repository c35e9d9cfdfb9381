package classify

import "testing"

func TestClassify_KnownCodes(t *testing.T) {
	cases := []struct {
		code   int
		kind   Kind
		action Action
	}{
		{401, Terminal, ActionTerminate},
		{403, Terminal, ActionTerminate},
		{408, Terminal, ActionTerminate},
		{428, Transient, ActionReconnect},
		{440, Terminal, ActionTerminate},
		{500, Remediable, ActionRemediate},
		{515, Transient, ActionReconnect},
		{516, Transient, ActionReconnect},
	}

	for _, c := range cases {
		code := c.code
		d := Classify(&code)
		if d.Kind != c.kind {
			t.Errorf("code %d: expected kind %s, got %s", c.code, c.kind, d.Kind)
		}
		if d.Action != c.action {
			t.Errorf("code %d: expected action %s, got %s", c.code, c.action, d.Action)
		}
	}
}

func TestClassify_UnknownCodeIsTransient(t *testing.T) {
	code := 999
	d := Classify(&code)
	if d.Kind != Transient || d.Action != ActionReconnect {
		t.Errorf("expected unknown code to classify as transient/reconnect, got %v", d)
	}
}

func TestClassify_NilCodeIsTransient(t *testing.T) {
	d := Classify(nil)
	if d.Kind != Transient {
		t.Errorf("expected nil status code to classify as transient, got %v", d)
	}
}

func TestIsRestart(t *testing.T) {
	c515, c516, c428 := 515, 516, 428
	if !IsRestart(&c515) {
		t.Error("expected 515 to be a restart code")
	}
	if !IsRestart(&c516) {
		t.Error("expected 516 to be a restart code")
	}
	if IsRestart(&c428) {
		t.Error("expected 428 to not be a restart code")
	}
	if IsRestart(nil) {
		t.Error("expected nil to not be a restart code")
	}
}

func Test515And516AllowHigherBoundThanOtherTransients(t *testing.T) {
	c515 := 515
	c428 := 428
	restart := Classify(&c515)
	generic := Classify(&c428)
	if restart.MaxAttempts <= generic.MaxAttempts {
		t.Errorf("expected pairing-restart bound (%d) to exceed generic transient bound (%d)",
			restart.MaxAttempts, generic.MaxAttempts)
	}
}
