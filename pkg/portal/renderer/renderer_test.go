package renderer_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/configuration"
	"github.com/aretw0/cocoon/pkg/portal/layout"
	"github.com/aretw0/cocoon/pkg/portal/profile"
	"github.com/aretw0/cocoon/pkg/portal/renderer"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// traceAspect records its calls and optionally stops the chain.
type traceAspect struct {
	name     string
	stop     bool
	calls    *[]string
	prepared *int
}

func (a traceAspect) PrepareConfiguration(conf *configuration.Configuration) (any, error) {
	*a.prepared++
	return a.name + "-" + conf.AttributeOr("label", "none"), nil
}

func (a traceAspect) ToSAX(ctx context.Context, rc *renderer.Context, config any, l *layout.Layout, h sax.ContentHandler) error {
	*a.calls = append(*a.calls, a.name+":"+config.(string)+":"+l.ID)
	if a.stop {
		return nil
	}
	return rc.InvokeNext(ctx, l, h)
}

func TestChain_InvokeNextAndShortCircuit(t *testing.T) {
	var calls []string
	var prepared int
	aspects := map[string]renderer.Aspect{
		"first":  traceAspect{name: "first", calls: &calls, prepared: &prepared},
		"stop":   traceAspect{name: "stop", stop: true, calls: &calls, prepared: &prepared},
		"second": traceAspect{name: "second", calls: &calls, prepared: &prepared},
	}
	conf, err := configuration.ParseBytes([]byte(`<renderers>
  <renderer name="full">
    <aspect type="first" label="x"/>
    <aspect type="second" label="y"/>
  </renderer>
  <renderer name="short">
    <aspect type="first"/>
    <aspect type="stop"/>
    <aspect type="second"/>
  </renderer>
  <default layout="row" renderer="full"/>
</renderers>`), "test")
	require.NoError(t, err)
	set, err := renderer.ParseSet(conf, aspects)
	require.NoError(t, err)
	assert.Equal(t, 5, prepared)

	p := &renderer.Portal{Renderers: set}
	ctx := context.Background()
	h := sax.Base{}

	require.NoError(t, p.Render(ctx, &layout.Layout{ID: "l1", Type: "row"}, h))
	require.NoError(t, p.Render(ctx, &layout.Layout{ID: "l2", Type: "row"}, h))
	require.NoError(t, p.Render(ctx, &layout.Layout{ID: "l3", Type: "row", Renderer: "short"}, h))

	assert.Equal(t, []string{
		"first:first-x:l1", "second:second-y:l1",
		"first:first-x:l2", "second:second-y:l2",
		"first:first-none:l3", "stop:stop-none:l3",
	}, calls)
	assert.Equal(t, 5, prepared)
}

func TestParseSet_Errors(t *testing.T) {
	tests := []struct {
		name string
		conf string
		want string
	}{
		{"missing name", `<renderers><renderer><aspect type="visibility"/></renderer></renderers>`, `"name"`},
		{"duplicate", `<renderers><renderer name="a"><aspect type="visibility"/></renderer><renderer name="a"><aspect type="visibility"/></renderer></renderers>`, "duplicate renderer"},
		{"unknown aspect", `<renderers><renderer name="a"><aspect type="sparkle"/></renderer></renderers>`, "unknown aspect type"},
		{"empty", `<renderers><renderer name="a"/></renderers>`, "has no aspects"},
		{"bad default", `<renderers><renderer name="a"><aspect type="visibility"/></renderer><default layout="row" renderer="b"/></renderers>`, "unknown renderer"},
		{"unused parameter", `<renderers><renderer name="a"><aspect type="xml-element"><colour>red</colour></aspect></renderer></renderers>`, "colour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := configuration.ParseBytes([]byte(tt.conf), "test")
			require.NoError(t, err)
			_, err = renderer.ParseSet(conf, renderer.DefaultAspects())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSet_ForLayout(t *testing.T) {
	set, err := renderer.DefaultSet()
	require.NoError(t, err)

	r, err := set.ForLayout(&layout.Layout{Type: layout.TypeTab})
	require.NoError(t, err)
	assert.Equal(t, "tab", r.Name)

	r, err = set.ForLayout(&layout.Layout{Type: layout.TypeTab, Renderer: "column"})
	require.NoError(t, err)
	assert.Equal(t, "column", r.Name)

	_, err = set.ForLayout(&layout.Layout{Type: "grid"})
	assert.ErrorIs(t, err, renderer.ErrNoRenderer)
	_, err = set.ForLayout(&layout.Layout{Type: layout.TypeRow, Renderer: "fancy"})
	assert.ErrorIs(t, err, renderer.ErrNoRenderer)
}

type fixture struct {
	holder *profile.Holder
	portal func(profile.View) *renderer.Portal
	root   *layout.Layout
	main   *layout.Item
	tabs   *layout.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := memory.NewSources()
	docs.Put("coplets/news.xml", `<?xml version="1.0"?><news>hello</news>`, time.Unix(1, 0))
	resolver := source.NewResolver(source.WithFactory(memory.Scheme, docs))

	set, err := renderer.DefaultSet()
	require.NoError(t, err)

	root := &layout.Layout{ID: "root", Type: layout.TypeRow}
	tabs := &layout.Layout{ID: "tabs", Type: layout.TypeTab, Parameters: map[string]string{"selected-name": "b"}}
	tabs.AddItem("a", &layout.Layout{ID: "c-weather", Type: layout.TypeCoplet, Coplet: "weather-1"})
	tabs.AddItem("b", &layout.Layout{ID: "c-news", Type: layout.TypeCoplet, Coplet: "news-1"})
	main := root.AddItem("main", tabs)
	side := root.AddItem("side", &layout.Layout{ID: "c-side", Type: layout.TypeCoplet, Coplet: "news-2"})
	side.Static = true
	root.AddItem("secret", &layout.Layout{ID: "hidden", Type: layout.TypeColumn, Parameters: map[string]string{"hidden": "true"}})

	h := profile.NewHolder()
	require.NoError(t, h.Rebuild(&profile.Profile{
		Definitions: []*profile.CopletDefinition{
			{ID: "news", Title: "News", URI: "news.xml"},
			{ID: "weather", Title: "Weather", URI: "weather.xml"},
		},
		Instances: []*profile.CopletInstance{
			{ID: "news-1", Definition: "news"},
			{ID: "news-2", Definition: "news", Title: "Headlines"},
			{ID: "weather-1", Definition: "weather", Size: profile.SizeMinimized},
		},
		Layout: root,
	}))

	return &fixture{
		holder: h,
		portal: func(v profile.View) *renderer.Portal {
			return &renderer.Portal{Renderers: set, Profile: v, Resolver: resolver, Base: "memory:/coplets/"}
		},
		root: root,
		main: main,
		tabs: tabs,
	}
}

func (f *fixture) render(t *testing.T, l *layout.Layout) string {
	t.Helper()
	var buf bytes.Buffer
	w := sax.NewWriter(&buf)
	err := f.holder.Read(func(v profile.View) error {
		return f.portal(v).Render(context.Background(), l, w)
	})
	require.NoError(t, err)
	require.NoError(t, w.EndDocument())
	return buf.String()
}

const (
	newsCoplet = `<coplet id="c-news"><title size="normal">News</title><content><news>hello</news></content></coplet>`
	sideCoplet = `<coplet id="c-side"><title size="normal">Headlines</title><content><news>hello</news></content></coplet>`
	tabsOutput = `<tab-layout id="tabs"><parameter name="selected-name" value="b"></parameter>` +
		`<named-item name="a"></named-item>` +
		`<named-item name="b" selected="true">` + newsCoplet + `</named-item></tab-layout>`
)

func TestRender_Page(t *testing.T) {
	f := newFixture(t)
	got := f.render(t, f.root)
	want := `<row id="root">` +
		`<item name="main">` + tabsOutput + `</item>` +
		`<item name="side">` + sideCoplet + `</item>` +
		`<item name="secret"></item>` +
		`</row>`
	assert.Equal(t, want, got)
}

func TestRender_MaximizedItem(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.root.SetMaximized(f.main))

	got := f.render(t, f.root)
	want := `<row id="root">` +
		`<item name="main" maximized="true">` + tabsOutput + `</item>` +
		`<item name="side">` + sideCoplet + `</item>` +
		`</row>`
	assert.Equal(t, want, got)
}

func TestRender_MinimizedCoplet(t *testing.T) {
	f := newFixture(t)
	f.tabs.Parameters["selected"] = "0"

	got := f.render(t, f.tabs)
	assert.Contains(t, got, `<named-item name="a" selected="true"><coplet id="c-weather"><title size="minimized">Weather</title></coplet></named-item>`)
	assert.Contains(t, got, `<named-item name="b"></named-item>`)
}

func TestRender_MissingCopletSource(t *testing.T) {
	f := newFixture(t)
	weather, ok := f.holder.Layout("c-weather")
	require.True(t, ok)
	require.NoError(t, f.holder.Inform(profile.Event{
		Kind:     profile.InstanceSizeChanged,
		Instance: &profile.CopletInstance{ID: "weather-1"},
		Size:     profile.SizeNormal,
	}))

	err := f.holder.Read(func(v profile.View) error {
		return f.portal(v).Render(context.Background(), weather, sax.Base{})
	})
	var notFound *memory.NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), "coplet weather-1")
}

func TestTabContent_ExactlyOneSelected(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		want   int
	}{
		{"default first", nil, 0},
		{"by index", map[string]string{"selected": "2"}, 2},
		{"index out of range", map[string]string{"selected": "7"}, 0},
		{"negative index", map[string]string{"selected": "-1", "selected-name": "b"}, 1},
		{"by name", map[string]string{"selected-name": "c"}, 2},
		{"index wins over name", map[string]string{"selected": "1", "selected-name": "c"}, 1},
		{"unknown name", map[string]string{"selected-name": "zz"}, 0},
		{"garbage index", map[string]string{"selected": "x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tabs := &layout.Layout{ID: "t", Type: layout.TypeTab, Parameters: tt.params}
			for _, name := range []string{"a", "b", "c"} {
				tabs.AddItem(name, &layout.Layout{ID: "t-" + name, Type: layout.TypeCoplet, Coplet: "weather-1"})
			}
			assert.Equal(t, tt.want, renderer.SelectedTab(tabs))

			got := f.render(t, tabs)
			assert.Equal(t, 1, strings.Count(got, `selected="true"`))
			assert.Contains(t, got, `<named-item name="`+tabs.Items[tt.want].Name+`" selected="true">`)
		})
	}

	assert.Equal(t, -1, renderer.SelectedTab(&layout.Layout{Type: layout.TypeTab}))
}

func TestCompositeContent_RejectsCopletLayout(t *testing.T) {
	f := newFixture(t)
	side, ok := f.holder.Layout("c-side")
	require.True(t, ok)
	side.Renderer = "row"
	defer func() { side.Renderer = "" }()

	err := f.holder.Read(func(v profile.View) error {
		return f.portal(v).Render(context.Background(), side, sax.Base{})
	})
	assert.ErrorContains(t, err, "not a composite layout")
}
