package session

import (
	"fmt"
	"testing"

	"github.com/codewiresh/httpllm/internal/responder"
)

func turn(role responder.Role, i int) responder.Turn {
	return responder.Turn{Role: role, Content: fmt.Sprintf("%s-%d", role, i)}
}

func TestHistoryUnbounded(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 100; i++ {
		h.Append(turn(responder.RoleRequester, i))
		h.Append(turn(responder.RoleResponder, i))
	}
	if h.Len() != 200 {
		t.Fatalf("Len = %d, want 200", h.Len())
	}
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	h := NewHistory(4)
	for i := 0; i < 5; i++ {
		h.Append(turn(responder.RoleRequester, i))
		h.Append(turn(responder.RoleResponder, i))
	}
	got := h.Turns()
	if len(got) != 4 {
		t.Fatalf("Len = %d, want 4", len(got))
	}
	if got[0].Content != "user-3" || got[3].Content != "assistant-4" {
		t.Fatalf("turns = %+v", got)
	}
}

func TestHistoryStartsWithRequester(t *testing.T) {
	cases := []struct {
		limit int
		want  int
	}{
		{1, 0},
		{2, 2},
		{3, 2},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("limit=%d", tc.limit), func(t *testing.T) {
			h := NewHistory(tc.limit)
			for i := 0; i < 3; i++ {
				h.Append(turn(responder.RoleRequester, i))
				h.Append(turn(responder.RoleResponder, i))
			}
			got := h.Turns()
			if len(got) != tc.want {
				t.Fatalf("Len = %d, want %d", len(got), tc.want)
			}
			if len(got) > 0 && got[0].Role != responder.RoleRequester {
				t.Fatalf("first turn role = %s", got[0].Role)
			}
		})
	}
}

func TestHistoryTurnsIsCopy(t *testing.T) {
	h := NewHistory(0)
	h.Append(turn(responder.RoleRequester, 0))
	got := h.Turns()
	got[0].Content = "mutated"
	if h.Turns()[0].Content != "user-0" {
		t.Fatal("Turns exposed internal storage")
	}
}
