package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || !params.Cursor.IsZero() {
		t.Fatalf("expected first page, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("%q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestTokenRoundTripThroughRequest(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), ID: "ord_9"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	req := httptest.NewRequest("GET", "/internal/orders/stale?pageSize=10&pageToken="+token, nil)
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if params.PageToken != token || params.Cursor.ID != "ord_9" || !params.Cursor.CreatedAt.Equal(cursor.CreatedAt) {
		t.Fatalf("unexpected params %#v", params)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "bm90LWpzb24", "e30"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("%q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}

func TestEncodeZeroCursorIsEmpty(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q %v", token, err)
	}
}

func TestCursorAfter(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: base, ID: "b"}
	cases := []struct {
		createdAt time.Time
		id        string
		want      bool
	}{
		{base.Add(-time.Second), "z", false},
		{base, "a", false},
		{base, "b", false},
		{base, "c", true},
		{base.Add(time.Second), "a", true},
	}
	for _, tc := range cases {
		if got := cursor.After(tc.createdAt, tc.id); got != tc.want {
			t.Fatalf("After(%s, %s) = %v, want %v", tc.createdAt, tc.id, got, tc.want)
		}
	}
	if !(Cursor{}).After(base, "a") {
		t.Fatal("zero cursor admits everything")
	}
}
