package narrate

import (
	"testing"

	"taskwarden/internal/domain"
)

func TestBuildScript(t *testing.T) {
	cases := []struct {
		name string
		evt  domain.Event
		want string
	}{
		{
			name: "interjection speaks its message",
			evt:  domain.Event{Type: "interjection.opened", Payload: `{"message":"Back to work.","strike_count":1}`},
			want: "Back to work.",
		},
		{
			name: "penalty names strike and amount",
			evt:  domain.Event{Type: "account.penalized", Payload: `{"strike_count":2,"amount":25,"balance_after":465}`},
			want: "Strike 2. 25 credits deducted from your account.",
		},
		{
			name: "forgiveness",
			evt:  domain.Event{Type: "strikes.forgiven", Payload: `{"previous_count":2}`},
			want: "Clean window. Your strikes have been cleared.",
		},
		{
			name: "reward names the item",
			evt:  domain.Event{Type: "reward.issued", Payload: `{"item":"coffee voucher"}`},
			want: "Well done. A coffee voucher is on its way.",
		},
		{
			name: "unknown type is silent",
			evt:  domain.Event{Type: "task.completed", Payload: `{}`},
			want: "",
		},
		{
			name: "malformed payload is silent",
			evt:  domain.Event{Type: "reward.issued", Payload: `not json`},
			want: "",
		},
	}
	for _, c := range cases {
		if got := BuildScript(c.evt); got != c.want {
			t.Errorf("%s: BuildScript = %q, want %q", c.name, got, c.want)
		}
	}
}
