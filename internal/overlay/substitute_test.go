package overlay

import "testing"

func TestSubstitute(t *testing.T) {
	ctx := Context{
		Filename:    "מערך שיעור",
		User:        "teacher@example.com",
		UserObj:     map[string]any{"id": 7, "email": "teacher@example.com", "profile": map[string]any{"city": "חיפה"}},
		Date:        "01/09/2026",
		Time:        "14:30",
		FrontendURL: "https://app.example.com",
	}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"simple token", "Purchased by {{user}}", "Purchased by teacher@example.com"},
		{"filename and date", "{{filename}} — {{date}} {{time}}", "מערך שיעור — 01/09/2026 14:30"},
		{"frontend url", "{{FRONTEND_URL}}/terms", "https://app.example.com/terms"},
		{"dotted user path", "id={{user.id}}", "id=7"},
		{"nested path", "{{userObj.profile.city}}", "חיפה"},
		{"whitespace inside braces", "{{ user }}", "teacher@example.com"},
		{"unresolved passes through", "hello {{missing}}", "hello {{missing}}"},
		{"unresolved deep path passes through", "{{user.profile.zipcode}}", "{{user.profile.zipcode}}"},
		{"extra segments on scalar pass through", "{{date.year}}", "{{date.year}}"},
		{"no tokens", "plain text", "plain text"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Substitute(tc.in, ctx); got != tc.want {
				t.Errorf("Substitute(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSubstituteNeverPanicsOnHostileInput(t *testing.T) {
	hostile := []string{
		"{{",
		"}}{{",
		"{{user",
		"{{user}}{{user}}{{user}}",
		"{{__proto__.constructor}}",
		"{{a.b.c.d.e.f.g}}",
	}
	for _, in := range hostile {
		_ = Substitute(in, Context{})
	}
}

func TestSubstituteAll(t *testing.T) {
	set := ElementSet{Elements: map[string][]Element{
		"url": {{
			ID:       "u1",
			Content:  "visit {{FRONTEND_URL}}",
			Href:     "{{FRONTEND_URL}}/store",
			Position: Position{X: 10, Y: 10},
		}},
	}}
	set.SubstituteAll(Context{FrontendURL: "https://shop.test"})

	got := set.Elements["url"][0]
	if got.Content != "visit https://shop.test" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Href != "https://shop.test/store" {
		t.Errorf("href = %q", got.Href)
	}
}
