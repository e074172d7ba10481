package reliability

import (
	"testing"
	"time"
)

func TestReconnectPolicyBudget(t *testing.T) {
	p := NewReconnectPolicy(3, 10*time.Second)

	delay, again := p.OnClose(1006)
	if !again || delay != 10*time.Second {
		t.Fatalf("OnClose(1006) #1 = %v, %v, want 10s, true", delay, again)
	}
	if _, again := p.OnClose(1011); !again {
		t.Fatalf("OnClose(1011) #2 again = false, want true")
	}
	if _, again := p.OnClose(1006); again {
		t.Fatalf("OnClose(1006) #3 again = true, want false")
	}
	if !p.Exhausted() || p.Failures() != 3 {
		t.Fatalf("Exhausted() = %v, Failures() = %d, want true, 3", p.Exhausted(), p.Failures())
	}
}

func TestReconnectPolicyNormalClose(t *testing.T) {
	p := NewReconnectPolicy(1, time.Second)
	if _, again := p.OnClose(CloseNormal); again {
		t.Fatalf("OnClose(1000) again = true, want false")
	}
	if p.Failures() != 0 {
		t.Fatalf("Failures() = %d, want 0", p.Failures())
	}
}

func TestReconnectPolicyReset(t *testing.T) {
	p := NewReconnectPolicy(2, 0)
	p.OnClose(1006)
	p.Reset()
	if _, again := p.OnClose(1006); !again {
		t.Fatalf("OnClose after Reset again = false, want true")
	}
	if _, again := p.OnClose(1006); again {
		t.Fatalf("second OnClose after Reset again = true, want false")
	}
}
