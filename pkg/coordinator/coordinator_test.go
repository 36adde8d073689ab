package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/gulfwatch/pkg/dom"
	"github.com/polisai/gulfwatch/pkg/filter"
	"github.com/polisai/gulfwatch/pkg/host"
	"github.com/polisai/gulfwatch/pkg/rewrite"
)

type harness struct {
	t     *testing.T
	doc   *dom.Document
	loop  *host.Loop
	coord *Coordinator
}

func newHarness(t *testing.T, doc *dom.Document, opts ...Option) *harness {
	t.Helper()
	loop := host.New(doc)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return &harness{t: t, doc: doc, loop: loop, coord: New(nil, nil, opts...)}
}

func parse(t *testing.T, src string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(src)
	require.NoError(t, err)
	return doc
}

func (h *harness) do(fn func(d *dom.Document)) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(context.Background(), fn))
}

func (h *harness) start() {
	h.t.Helper()
	h.do(func(d *dom.Document) {
		require.NoError(h.t, h.coord.Start(d, h.loop))
	})
}

// spy counts character-data writes per node.
func (h *harness) spy() map[*dom.Node]int {
	h.t.Helper()
	writes := map[*dom.Node]int{}
	h.do(func(d *dom.Document) {
		_, err := d.Observe(d.Root(), dom.ObserveOptions{CharacterData: true, Subtree: true}, func(b dom.Batch) {
			for _, rec := range b.Records {
				writes[rec.Target]++
			}
		})
		require.NoError(h.t, err)
	})
	return writes
}

func (h *harness) text(tag string) string {
	h.t.Helper()
	var out string
	h.do(func(d *dom.Document) {
		els := d.ElementsByTag(tag)
		require.NotEmpty(h.t, els)
		out = els[0].TextContent()
	})
	return out
}

func TestCoordinator_EndToEnd(t *testing.T) {
	h := newHarness(t, parse(t, `<p>The <b>Gulf of America</b> is large.</p><script>var x = "Gulf of America";</script>`))
	h.start()

	assert.Equal(t, StateActive, h.coord.State())
	assert.Equal(t, "The Gulf of Mexico is large.", h.text("p"))
	assert.Equal(t, `var x = "Gulf of America";`, h.text("script"))
}

func TestCoordinator_InitialSweepHonoursExclusions(t *testing.T) {
	doc := parse(t, `
		<code><span><em>Gulf of America</em></span></code>
		<pre>Gulf of America</pre>
		<div contenteditable><p>Gulf of America</p></div>
		<section>gulf of america and GULF OF AMERICA</section>`)
	c := New(filter.New(filter.DefaultExclusions()), rewrite.Default())

	written := c.InitialSweep(doc.Body())

	assert.Equal(t, 2, written)
	assert.Equal(t, "Gulf of America", doc.ElementsByTag("em")[0].TextContent())
	assert.Equal(t, "Gulf of Mexico", doc.ElementsByTag("pre")[0].TextContent())
	assert.Equal(t, "Gulf of America", doc.ElementsByTag("p")[0].TextContent())
	assert.Equal(t, "Gulf of Mexico and Gulf of Mexico", doc.ElementsByTag("section")[0].TextContent())
	assert.Equal(t, StateUninitialized, c.State())
}

func TestCoordinator_InitialSweepSkipsExcludedRoot(t *testing.T) {
	doc := parse(t, `<code>Gulf of America</code><!--Gulf of America-->`)
	c := New(nil, nil)

	assert.Equal(t, 0, c.InitialSweep(doc.ElementsByTag("code")[0]))
	assert.Equal(t, 1, c.Stats().Excluded)

	var comment *dom.Node
	for n := doc.Body().FirstChild(); n != nil; n = n.NextSibling() {
		if n.Type() == dom.CommentNode {
			comment = n
		}
	}
	require.NotNil(t, comment)
	assert.Equal(t, 0, c.InitialSweep(comment))
	assert.Equal(t, "Gulf of America", comment.Data())
}

func TestCoordinator_DynamicContent(t *testing.T) {
	h := newHarness(t, parse(t, `<p>one</p><p>two</p><p>three</p>`))
	h.start()
	before := h.coord.Stats()

	h.do(func(d *dom.Document) {
		nodes, err := d.ParseFragment(d.Body(), `<div><h2>Welcome to the Gulf of America</h2></div>`)
		require.NoError(t, err)
		for _, n := range nodes {
			require.NoError(t, d.AppendChild(d.Body(), n))
		}
	})

	assert.Equal(t, "Welcome to the Gulf of Mexico", h.text("h2"))
	after := h.coord.Stats()
	// One unit from the insertion plus the settling record of the write.
	assert.Equal(t, 2, after.Scanned-before.Scanned)
	assert.Equal(t, 1, after.Rewritten-before.Rewritten)
	assert.Zero(t, after.Resweeps)
}

func TestCoordinator_DynamicContentInsideExcludedContainer(t *testing.T) {
	h := newHarness(t, parse(t, `<code id="c"></code>`))
	h.start()

	h.do(func(d *dom.Document) {
		code := d.ElementsByTag("code")[0]
		require.NoError(t, d.AppendChild(code, d.NewText("Gulf of America")))
	})
	assert.Equal(t, "Gulf of America", h.text("code"))
}

func TestCoordinator_InPlaceEditTouchesOnlyThatUnit(t *testing.T) {
	h := newHarness(t, parse(t, `<p id="a">alpha</p><p id="b">beta</p>`))
	h.start()
	writes := h.spy()

	var a, b *dom.Node
	h.do(func(d *dom.Document) {
		ps := d.ElementsByTag("p")
		a, b = ps[0].FirstChild(), ps[1].FirstChild()
		require.NoError(t, d.SetData(a, "sailing the gulf of AMERICA"))
	})

	assert.Equal(t, "sailing the Gulf of Mexico", h.text("p"))
	// The edit itself plus exactly one rewrite, then the value is stable.
	assert.Equal(t, 2, writes[a])
	assert.Zero(t, writes[b])

	h.do(func(*dom.Document) {})
	assert.Equal(t, 2, writes[a])
}

func TestCoordinator_UnchangedTextIsNotWritten(t *testing.T) {
	h := newHarness(t, parse(t, `<p>Gulf of Mexico</p>`))
	writes := h.spy()
	h.start()

	assert.Empty(t, writes)
	assert.Zero(t, h.coord.Stats().Rewritten)
}

func TestCoordinator_RemovedBeforeDeliveryIsSkipped(t *testing.T) {
	h := newHarness(t, parse(t, `<p>x</p>`))
	h.start()

	var orphan *dom.Node
	h.do(func(d *dom.Document) {
		orphan = d.NewElement("span")
		require.NoError(t, d.AppendChild(orphan, d.NewText("Gulf of America")))
		require.NoError(t, d.AppendChild(d.Body(), orphan))
		require.NoError(t, d.RemoveChild(d.Body(), orphan))
	})
	assert.Equal(t, "Gulf of America", orphan.TextContent())
}

func TestCoordinator_DeferredStart(t *testing.T) {
	h := newHarness(t, dom.NewDocument())
	h.start()
	assert.Equal(t, StateUninitialized, h.coord.State())

	h.do(func(d *dom.Document) {
		htmlEl := d.NewElement("html")
		body := d.NewElement("body")
		require.NoError(t, d.AppendChild(d.Root(), htmlEl))
		require.NoError(t, d.AppendChild(htmlEl, body))
		require.NoError(t, d.AppendChild(body, d.NewText("Gulf of America")))
	})
	require.NoError(t, h.loop.MarkReady())
	h.do(func(*dom.Document) {})

	assert.Equal(t, StateActive, h.coord.State())
	assert.Equal(t, "Gulf of Mexico", h.text("body"))

	h.do(func(d *dom.Document) {
		require.NoError(t, d.AppendChild(d.Body(), d.NewText(" and the Gulf of America")))
	})
	assert.Equal(t, "Gulf of Mexico and the Gulf of Mexico", h.text("body"))
}

func TestCoordinator_ReadyWithoutBodyFallsBack(t *testing.T) {
	doc := dom.NewDocument()
	h := newHarness(t, doc)
	h.start()

	h.do(func(d *dom.Document) {
		feed := d.NewElement("feed")
		require.NoError(t, d.AppendChild(d.Root(), feed))
		require.NoError(t, d.AppendChild(feed, d.NewText("Gulf of America")))
	})
	require.NoError(t, h.loop.MarkReady())
	h.do(func(*dom.Document) {})

	assert.Equal(t, StateActive, h.coord.State())
	assert.Equal(t, "feed", h.coord.Root().Tag())
	assert.Equal(t, "Gulf of Mexico", h.text("feed"))
}

func TestCoordinator_StartTwice(t *testing.T) {
	h := newHarness(t, parse(t, `<p>x</p>`))
	h.start()
	h.do(func(d *dom.Document) {
		assert.True(t, errors.Is(h.coord.Start(d, h.loop), ErrAlreadyStarted))
	})
}

type failingReady struct{ err error }

func (r failingReady) OnReady(func()) error { return r.err }

func TestCoordinator_ReadyRegistrationFailureAllowsRetry(t *testing.T) {
	h := newHarness(t, dom.NewDocument())

	h.do(func(d *dom.Document) {
		err := h.coord.Start(d, failingReady{err: host.ErrQueueFull})
		assert.True(t, errors.Is(err, host.ErrQueueFull))
		assert.Equal(t, StateUninitialized, h.coord.State())

		require.NoError(t, h.coord.Start(d, h.loop))
	})
	h.do(func(d *dom.Document) {
		htmlEl := d.NewElement("html")
		body := d.NewElement("body")
		require.NoError(t, d.AppendChild(d.Root(), htmlEl))
		require.NoError(t, d.AppendChild(htmlEl, body))
		require.NoError(t, d.AppendChild(body, d.NewText("Gulf of America")))
	})
	require.NoError(t, h.loop.MarkReady())
	h.do(func(*dom.Document) {})

	assert.Equal(t, StateActive, h.coord.State())
	assert.Equal(t, "Gulf of Mexico", h.text("body"))
}

type panickingRecorder struct{ armed bool }

func (r *panickingRecorder) RecordSweep(SweepResult) {
	if r.armed {
		r.armed = false
		panic("recorder exploded")
	}
}

func TestCoordinator_BatchFailureDoesNotDisableFeed(t *testing.T) {
	rec := &panickingRecorder{}
	h := newHarness(t, parse(t, `<p>x</p>`), WithRecorder(rec))
	h.start()

	rec.armed = true
	h.do(func(d *dom.Document) {
		require.NoError(t, d.AppendChild(d.Body(), d.NewText("first")))
	})
	assert.Equal(t, 1, h.coord.Stats().Failures)

	h.do(func(d *dom.Document) {
		p := d.ElementsByTag("p")[0]
		require.NoError(t, d.SetData(p.FirstChild(), "Gulf of America"))
	})
	assert.Equal(t, "Gulf of Mexico", h.text("p"))
	assert.Equal(t, 1, h.coord.Stats().Failures)
}

func TestCoordinator_OverflowResweeps(t *testing.T) {
	h := newHarness(t, parse(t, `<div></div>`), WithMaxPending(1))
	h.start()

	h.do(func(d *dom.Document) {
		div := d.ElementsByTag("div")[0]
		for i := 0; i < 3; i++ {
			p := d.NewElement("p")
			require.NoError(t, d.AppendChild(p, d.NewText("Gulf of America")))
			require.NoError(t, d.AppendChild(div, p))
		}
	})

	assert.Equal(t, "Gulf of MexicoGulf of MexicoGulf of Mexico", h.text("div"))
	// The settling records of the resweep overflow the queue as well.
	assert.Equal(t, 2, h.coord.Stats().Resweeps)
	assert.Equal(t, 3, h.coord.Stats().Rewritten)
}

func TestCollectTextUnits_DocumentOrder(t *testing.T) {
	doc := parse(t, `<div>a<p>b<i>c</i>d</p><ul><li>e</li></ul>f</div>`)
	div := doc.ElementsByTag("div")[0]

	var got []string
	for _, n := range collectTextUnits(div) {
		got = append(got, n.Data())
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "e", "f"}, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	text := div.FirstChild()
	assert.Equal(t, []*dom.Node{text}, collectTextUnits(text))
	assert.Empty(t, collectTextUnits(doc.NewElement("span")))
}
