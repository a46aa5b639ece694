package raster

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/olivier-w/spectro/internal/analyzer"
	"github.com/olivier-w/spectro/internal/colormap"
	"github.com/olivier-w/spectro/internal/params"
)

func testBars(n int, mag float64) []analyzer.Bar {
	bars := make([]analyzer.Bar, n)
	for i := range bars {
		// Semitone steps so neighbouring bars get distinct hues.
		bars[i] = analyzer.Bar{Frequency: 440 * math.Pow(2, float64(i)/12), Magnitude: mag}
	}
	return bars
}

func expectedColor(s *params.Store, bar analyzer.Bar) color.RGBA {
	c := colormap.NewMapper(s).Contrast()
	return colormap.Color(bar.Frequency, c.Intensity(bar.Magnitude))
}

type recordingSink struct {
	frames  []Frame
	columns []image.Image
}

func (r *recordingSink) OnFrame(f Frame) {
	r.frames = append(r.frames, f)
	r.columns = append(r.columns, f.HistoryColumn())
}

func TestSegmentBoundsTileExtent(t *testing.T) {
	for _, extent := range []int{1, 7, 100, 599, 600, 1920} {
		for _, n := range []int{1, 3, 8, 13, 96, 700} {
			covered := make([]int, extent)
			prevHi := 0
			for i := 0; i < n; i++ {
				lo, hi := SegmentBounds(i, n, extent)
				if lo != prevHi {
					t.Fatalf("extent=%d n=%d: segment %d starts at %d, previous ended at %d", extent, n, i, lo, prevHi)
				}
				if hi < lo {
					t.Fatalf("extent=%d n=%d: segment %d inverted", extent, n, i)
				}
				for p := lo; p < hi; p++ {
					covered[p]++
				}
				prevHi = hi
			}
			if prevHi != extent {
				t.Fatalf("extent=%d n=%d: segments end at %d", extent, n, prevHi)
			}
			for p, c := range covered {
				if c != 1 {
					t.Fatalf("extent=%d n=%d: pixel %d covered %d times", extent, n, p, c)
				}
			}
		}
	}
}

func TestHorizontalScenarioGeometry(t *testing.T) {
	s := params.New()
	s.Set(params.Speed, 2)
	e := New(s, 800, 600)

	if got, want := e.StripRect(3, 8), image.Rect(798, 300, 800, 375); got != want {
		t.Fatalf("StripRect(3, 8) = %v, want %v", got, want)
	}
	if got, want := e.StripRect(0, 8), image.Rect(798, 525, 800, 600); got != want {
		t.Fatalf("StripRect(0, 8) = %v, want %v", got, want)
	}

	bars := testBars(8, 0.9)
	if !e.Draw(bars) {
		t.Fatal("expected Draw to run")
	}
	img := e.Image()
	want := expectedColor(s, bars[3])
	for y := 300; y < 375; y++ {
		for x := 798; x < 800; x++ {
			if got := img.RGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d) = %+v, want %+v", x, y, got, want)
			}
		}
	}
	if got := img.RGBAAt(797, 320); got != Background {
		t.Fatalf("pixel left of strip = %+v, want background", got)
	}
	if got := img.RGBAAt(799, 599); got != expectedColor(s, bars[0]) {
		t.Fatalf("bottom pixel = %+v, want bar 0 colour", got)
	}
}

func TestHorizontalContentShiftsLeft(t *testing.T) {
	s := params.New()
	s.Set(params.Speed, 2)
	e := New(s, 800, 600)

	first := testBars(8, 0.9)
	e.Draw(first)
	second := testBars(8, 0.1)
	e.Draw(second)

	img := e.Image()
	if got, want := img.RGBAAt(796, 320), expectedColor(s, first[3]); got != want {
		t.Fatalf("shifted pixel = %+v, want %+v", got, want)
	}
	if got, want := img.RGBAAt(798, 320), expectedColor(s, second[3]); got != want {
		t.Fatalf("leading pixel = %+v, want %+v", got, want)
	}
	if got := img.RGBAAt(795, 320); got != Background {
		t.Fatalf("pixel beyond shifted content = %+v, want background", got)
	}
}

func TestVerticalGeometryAndScroll(t *testing.T) {
	s := params.New()
	s.Set(params.Speed, 3)
	s.SetOrientation(params.Vertical)
	e := New(s, 400, 300)

	if got, want := e.StripRect(0, 4), image.Rect(0, 0, 100, 3); got != want {
		t.Fatalf("StripRect(0, 4) = %v, want %v", got, want)
	}
	if got, want := e.StripRect(3, 4), image.Rect(300, 0, 400, 3); got != want {
		t.Fatalf("StripRect(3, 4) = %v, want %v", got, want)
	}

	first := testBars(4, 0.9)
	e.Draw(first)
	e.Draw(testBars(4, 0.2))

	img := e.Image()
	if got, want := img.RGBAAt(10, 4), expectedColor(s, first[0]); got != want {
		t.Fatalf("scrolled pixel = %+v, want %+v", got, want)
	}
	if got := img.RGBAAt(10, 6); got != Background {
		t.Fatalf("pixel below scrolled strip = %+v, want background", got)
	}
}

func TestDrawSkipsWhenPausedOrEmpty(t *testing.T) {
	s := params.New()
	e := New(s, 10, 10)
	sink := &recordingSink{}
	e.Attach(sink)

	before := e.Snapshot()
	e.Pause()
	if e.Draw(testBars(4, 1)) {
		t.Fatal("expected paused Draw to skip")
	}
	e.Resume()
	if e.Draw(nil) {
		t.Fatal("expected empty Draw to skip")
	}
	for i := range before.Pix {
		if before.Pix[i] != e.Image().Pix[i] {
			t.Fatal("raster mutated by skipped Draw")
		}
	}
	if len(sink.frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(sink.frames))
	}
	if e.Reference() != nil {
		t.Fatal("expected no reference layout")
	}
}

func TestDrawSkipsEmptyViewport(t *testing.T) {
	e := New(params.New(), 0, 0)
	if e.Draw(testBars(4, 1)) {
		t.Fatal("expected Draw on empty raster to skip")
	}
}

func TestSpeedClampedToRaster(t *testing.T) {
	s := params.New()
	s.Set(params.Speed, 4)
	e := New(s, 3, 8)
	sink := &recordingSink{}
	e.Attach(sink)

	e.Draw(testBars(2, 1))
	if got := sink.frames[0].Speed; got != 3 {
		t.Fatalf("expected strip thickness 3, got %d", got)
	}
}

func TestResize(t *testing.T) {
	e := New(params.New(), 20, 10)
	e.Draw(testBars(2, 1))

	if e.Resize(20, 10) {
		t.Fatal("expected same-size resize to be a no-op")
	}
	if got := e.Image().RGBAAt(19, 9); got == Background {
		t.Fatal("no-op resize should keep content")
	}

	if !e.Resize(30, 12) {
		t.Fatal("expected resize to reallocate")
	}
	if w, h := e.Size(); w != 30 || h != 12 {
		t.Fatalf("size = %dx%d, want 30x12", w, h)
	}
	for y := 0; y < 12; y++ {
		for x := 0; x < 30; x++ {
			if e.Image().RGBAAt(x, y) != Background {
				t.Fatalf("pixel (%d,%d) not cleared", x, y)
			}
		}
	}
	if len(e.scratch.Pix) != len(e.Image().Pix) {
		t.Fatal("scratch buffer not resized with raster")
	}
}

func TestClear(t *testing.T) {
	e := New(params.New(), 5, 5)
	e.Draw(testBars(1, 1))
	e.Clear()
	if got := e.Image().RGBAAt(4, 4); got != Background {
		t.Fatalf("expected background after clear, got %+v", got)
	}
}

func TestBarCountChangeReplacesReference(t *testing.T) {
	e := New(params.New(), 50, 50)
	e.Draw(testBars(4, 0.5))
	ref := e.Reference()
	if len(ref) != 4 {
		t.Fatalf("expected 4 reference bars, got %d", len(ref))
	}
	e.Draw(testBars(4, 0.9))
	if e.Reference()[0].Magnitude != 0.5 {
		t.Fatal("reference should keep the first layout while the count is stable")
	}
	e.Draw(testBars(6, 0.5))
	if len(e.Reference()) != 6 {
		t.Fatalf("expected 6 reference bars after re-layout, got %d", len(e.Reference()))
	}
}

func TestHistoryColumnHorizontal(t *testing.T) {
	s := params.New()
	s.Set(params.Speed, 2)
	e := New(s, 40, 16)
	sink := &recordingSink{}
	e.Attach(sink)

	bars := testBars(4, 0.8)
	e.Draw(bars)

	col := sink.columns[0]
	if b := col.Bounds(); b.Dx() != 2 || b.Dy() != 16 {
		t.Fatalf("column bounds = %v, want 2x16", b)
	}
	b := col.Bounds()
	got := color.RGBAModel.Convert(col.At(b.Min.X, b.Max.Y-1)).(color.RGBA)
	if want := expectedColor(s, bars[0]); got != want {
		t.Fatalf("bottom of column = %+v, want bar 0 %+v", got, want)
	}
}

func TestHistoryColumnVerticalIsTransposed(t *testing.T) {
	s := params.New()
	s.Set(params.Speed, 2)
	s.SetOrientation(params.Vertical)
	e := New(s, 16, 40)
	sink := &recordingSink{}
	e.Attach(sink)

	bars := testBars(4, 0.8)
	e.Draw(bars)

	col := sink.columns[0]
	if b := col.Bounds(); b.Dx() != 2 || b.Dy() != 16 {
		t.Fatalf("column bounds = %v, want 2x16", b)
	}
	for x := 0; x < 2; x++ {
		if got, want := col.At(x, 15), expectedColor(s, bars[0]); got != want {
			t.Fatalf("bottom of column x=%d = %+v, want bar 0 %+v", x, got, want)
		}
		if got, want := col.At(x, 0), expectedColor(s, bars[3]); got != want {
			t.Fatalf("top of column x=%d = %+v, want bar 3 %+v", x, got, want)
		}
	}
}
