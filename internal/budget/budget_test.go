package budget

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ziadkadry99/ragbudget/internal/complexity"
)

func testAllocator() *Allocator {
	return NewAllocator(nil, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAllocateBounds(t *testing.T) {
	a := testAllocator()
	o := a.Options()
	queries := []string{
		"hi",
		"what is the refund policy",
		"¿Cómo optimizar nuestra estrategia de ventas?",
		strings.Repeat("analyze the strategy and design the architecture for security ", 12),
	}
	windows := []int{8000, 32000, 37000, 40000, 45000, 48000, 120000, 200000}
	histories := []int{0, 3, 10, 25, 60}

	for _, q := range queries {
		for _, w := range windows {
			for _, h := range histories {
				for _, deep := range []bool{false, true} {
					b := a.Allocate(Request{Query: q, HistoryLen: h, Window: w, Deep: deep})
					available := w - o.SystemTokens - o.BufferTokens

					if b.Response < 4000 || b.Response > 15000 {
						t.Errorf("q=%.20q w=%d h=%d deep=%v: response %d out of range", q, w, h, deep, b.Response)
					}
					if b.Context < 20000 || b.Context > max(available, 20000) {
						t.Errorf("q=%.20q w=%d: context %d out of range", q, w, b.Context)
					}
					if b.History < 10000 || b.History > max(available/2, 10000) {
						t.Errorf("q=%.20q w=%d: history %d out of range", q, w, b.History)
					}
					if b.TotalAllocated != b.Sum() {
						t.Errorf("total %d != sum %d", b.TotalAllocated, b.Sum())
					}
					floors := o.SystemTokens + o.BufferTokens + o.Response.Min + o.MinContext + o.MinHistory
					if b.TotalAllocated > max(w, floors) {
						t.Errorf("w=%d: total %d exceeds window and floor sum", w, b.TotalAllocated)
					}
					if w >= floors && b.TotalAllocated > w {
						t.Errorf("w=%d: total %d exceeds window", w, b.TotalAllocated)
					}
					if b.Factor < 0.6 || b.Factor > 2.5 {
						t.Errorf("factor %.2f out of range", b.Factor)
					}
				}
			}
		}
	}
}

func TestAllocateTrivialQuery(t *testing.T) {
	a := testAllocator()
	b := a.Allocate(Request{Query: "hello", HistoryLen: 0, Window: 120000})

	if b.Level != complexity.Trivial {
		t.Fatalf("level = %s, want trivial", b.Level)
	}
	wantResp := int(float64(7000) * 0.6 * 1.2)
	if b.Response != wantResp {
		t.Errorf("response = %d, want %d", b.Response, wantResp)
	}
	wantCtx := int(float64(60000) * 0.6 * 1.15)
	if b.Context != wantCtx {
		t.Errorf("context = %d, want %d", b.Context, wantCtx)
	}
	wantHist := int(float64(int(float64(25000)*0.6)) * 0.7)
	if b.History != wantHist {
		t.Errorf("history = %d, want %d", b.History, wantHist)
	}
	if b.System != 2000 || b.Buffer != 1000 {
		t.Errorf("fixed reservations = %d/%d, want 2000/1000", b.System, b.Buffer)
	}
}

func TestAllocateHistoryAdjustment(t *testing.T) {
	a := testAllocator()
	q := strings.Repeat("word ", 40) // complex by length, factor 1.5
	long := a.Allocate(Request{Query: q, HistoryLen: 60, Window: 400000})
	mid := a.Allocate(Request{Query: q, HistoryLen: 30, Window: 400000})
	plain := a.Allocate(Request{Query: q, HistoryLen: 10, Window: 400000})
	short := a.Allocate(Request{Query: q, HistoryLen: 2, Window: 400000})

	if !(short.History < long.History && long.History < mid.History && mid.History < plain.History) {
		t.Errorf("history ordering wrong: short=%d long=%d mid=%d plain=%d",
			short.History, long.History, mid.History, plain.History)
	}
}

func TestAllocateDeepIsLarger(t *testing.T) {
	a := testAllocator()
	q := "compare the two pricing models for enterprise customers in detail please"
	normal := a.Allocate(Request{Query: q, HistoryLen: 10, Window: 400000})
	deep := a.Allocate(Request{Query: q, HistoryLen: 10, Window: 400000, Deep: true})
	if deep.Response <= normal.Response || deep.Context <= normal.Context || deep.History <= normal.History {
		t.Errorf("deep budget not larger: normal=%v deep=%v", normal, deep)
	}
}

func TestAllocateZeroWindowUsesDefault(t *testing.T) {
	a := testAllocator()
	b := a.Allocate(Request{Query: "how do refunds work", Window: 0})
	if b.TotalAllocated > 120000 {
		t.Errorf("total %d exceeds default window", b.TotalAllocated)
	}
}

func TestAllocateFitShrinksHistoryFirst(t *testing.T) {
	a := testAllocator()
	q := "¿Cómo optimizar nuestra estrategia de ventas?"
	b := a.Allocate(Request{Query: q, HistoryLen: 10, Window: 120000})
	if b.TotalAllocated > 120000 {
		t.Fatalf("total %d exceeds window", b.TotalAllocated)
	}
	if b.Response < 4000 || b.Response > 15000 {
		t.Errorf("response %d out of range", b.Response)
	}
	if b.History != 10000 && b.Context != int(float64(60000)*b.Factor*1.15) {
		t.Errorf("context was cut before history reached its floor: %v", b)
	}
}

func TestAllocateFitShrinksResponseLast(t *testing.T) {
	a := testAllocator()
	o := a.Options()
	q := strings.Repeat("analyze the strategy and design the architecture for security ", 12)

	for _, w := range []int{37000, 40000, 45000} {
		b := a.Allocate(Request{Query: q, HistoryLen: 30, Window: w, Deep: true})
		if b.TotalAllocated > w {
			t.Errorf("w=%d: total %d exceeds window (%v)", w, b.TotalAllocated, b)
		}
		if b.Response < o.Response.Min {
			t.Errorf("w=%d: response %d below floor", w, b.Response)
		}
		if b.Response < o.Response.Max && (b.Context != o.MinContext || b.History != o.MinHistory) {
			t.Errorf("w=%d: response cut before context and history reached their floors: %v", w, b)
		}
	}

	b := a.Allocate(Request{Query: q, Window: 37000, Deep: true})
	if b.History != o.MinHistory || b.Context != o.MinContext || b.Response != o.Response.Min {
		t.Errorf("at the floor sum every category should sit at its floor: %v", b)
	}
}

func TestShouldStream(t *testing.T) {
	a := testAllocator()
	yes, no := true, false

	tests := []struct {
		name string
		b    Budget
		pref *bool
		want bool
	}{
		{"large response", Budget{Response: 4000, Level: complexity.Simple}, nil, true},
		{"small simple", Budget{Response: 1500, Level: complexity.Simple}, nil, false},
		{"small complex", Budget{Response: 1500, Level: complexity.Complex}, nil, true},
		{"small very complex", Budget{Response: 1500, Level: complexity.VeryComplex}, nil, true},
		{"preference off", Budget{Response: 9000, Level: complexity.Complex}, &no, false},
		{"preference on", Budget{Response: 100, Level: complexity.Trivial}, &yes, true},
	}
	for _, tt := range tests {
		if got := a.ShouldStream(tt.b, tt.pref); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
