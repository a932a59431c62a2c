package integrity_test

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/integrity"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ev(id string, typ model.EventType, offset time.Duration, seq int64) model.Event {
	return model.Event{ID: id, SessionID: "s1", Type: typ, Timestamp: t0.Add(offset), Sequence: seq, Source: model.SourceClient}
}

func tabSwitches(n int, gap time.Duration) []model.Event {
	out := make([]model.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ev(fmt.Sprintf("e%02d", i), model.EventTabSwitch, time.Duration(i)*gap, int64(i)))
	}
	return out
}

func TestFrequencyRule(t *testing.T) {
	settings := model.IntegritySettings{
		Enabled:            true,
		MaxSuspiciousMarks: 1,
		FrequencyRules:     []model.FrequencyRule{{Type: model.EventTabSwitch, Count: 3, WindowSeconds: 60, Code: "TABS"}},
	}

	// 4 switches 10s apart: the 3rd and 4th reach the threshold
	rep := integrity.Analyze(tabSwitches(4, 10*time.Second), settings)
	if len(rep.Marks) != 2 || !rep.Flagged {
		t.Fatalf("report = %+v", rep)
	}
	if !reflect.DeepEqual(rep.Flags, []string{"TABS"}) {
		t.Fatalf("flags = %v", rep.Flags)
	}

	// spread out beyond the window: never three inside 60s
	rep = integrity.Analyze(tabSwitches(6, 45*time.Second), settings)
	if len(rep.Marks) != 0 || rep.Flagged {
		t.Fatalf("spread events should not be marked: %+v", rep)
	}
}

func TestFlagThresholdIsStrict(t *testing.T) {
	settings := model.IntegritySettings{
		Enabled:            true,
		MaxSuspiciousMarks: 2,
		FrequencyRules:     []model.FrequencyRule{{Type: model.EventDevtoolsOpen, Count: 1, Code: "DEVTOOLS"}},
	}
	two := []model.Event{ev("a", model.EventDevtoolsOpen, 0, 1), ev("b", model.EventDevtoolsOpen, time.Minute, 2)}
	if rep := integrity.Analyze(two, settings); rep.Flagged {
		t.Fatal("marks equal to the maximum must not flag")
	}
	three := append(two, ev("c", model.EventDevtoolsOpen, 2*time.Minute, 3))
	if rep := integrity.Analyze(three, settings); !rep.Flagged {
		t.Fatal("marks above the maximum must flag")
	}
}

func TestSequenceRule(t *testing.T) {
	settings := model.IntegritySettings{
		Enabled:       true,
		SequenceRules: []model.SequenceRule{{First: model.EventTabSwitch, Then: model.EventPasteAttempt, WithinSeconds: 30, Code: "PASTE"}},
	}
	events := []model.Event{
		ev("p0", model.EventPasteAttempt, 0, 1),
		ev("t1", model.EventTabSwitch, 10*time.Second, 2),
		ev("p1", model.EventPasteAttempt, 20*time.Second, 3),
		ev("p2", model.EventPasteAttempt, 90*time.Second, 4),
	}
	rep := integrity.Analyze(events, settings)
	if len(rep.Marks) != 1 || rep.Marks[0].EventID != "p1" {
		t.Fatalf("marks = %+v", rep.Marks)
	}

	annotated := integrity.Annotate(events, rep)
	if !annotated[2].Suspicious || annotated[2].SuspiciousReason != "PASTE" || annotated[0].Suspicious {
		t.Fatalf("annotate = %+v", annotated)
	}
	if events[2].Suspicious {
		t.Fatal("Annotate must not mutate its input")
	}
}

func TestAnalyzeIsDeterministicAcrossArrivalOrder(t *testing.T) {
	settings := integrity.Default()
	var events []model.Event
	events = append(events, tabSwitches(7, 20*time.Second)...)
	events = append(events,
		ev("x1", model.EventPasteAttempt, 25*time.Second, 100),
		ev("x2", model.EventDevtoolsOpen, 30*time.Second, 101),
		ev("x3", model.EventFocusLost, 40*time.Second, 102),
		ev("x4", model.EventAnswerSaved, 42*time.Second, 103),
	)
	want := integrity.Analyze(events, settings)
	if !want.Flagged {
		t.Fatalf("expected default rules to flag: %+v", want)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := integrity.Analyze(shuffled, settings); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d differs:\n got %+v\nwant %+v", i, got, want)
		}
	}
}

func TestDisabledAndEffective(t *testing.T) {
	if rep := integrity.Analyze(tabSwitches(20, time.Second), model.IntegritySettings{}); rep.Flagged || len(rep.Marks) != 0 {
		t.Fatalf("disabled monitor produced %+v", rep)
	}
	eff := integrity.Effective(model.IntegritySettings{Enabled: true, MaxSuspiciousMarks: 9})
	if len(eff.FrequencyRules) == 0 || eff.MaxSuspiciousMarks != 9 {
		t.Fatalf("effective = %+v", eff)
	}
}
