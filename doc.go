/*
Package cocoon is a sitemap-driven XML publishing engine.

A sitemap is an XML document that maps request URIs to pipelines. Each
request walks the compiled sitemap: matchers, selectors and actions choose a
path, which assembles a pipeline of one generator, any number of transformers
and a serializer (or a single reader). The pipeline then streams XML events
from the generator to the response.

# Usage

	engine, err := cocoon.New("./site", cocoon.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	resp, err := engine.Render(ctx, &domain.Request{Path: "docs/index.html"}, os.Stdout)

Sources are addressed by URI. Besides file: and http(s):, the engine knows:

  - cocoon:/path and cocoon://path, the output of an internal pipeline of the
    current or the root sitemap;
  - cached:<uri>?cocoon:cache-expires=60, a store-backed cache of any other
    source (see WithStore and WithLocker).

With WithProfiles the "portal" generator renders the layout of the current
user through the renderer aspect chain of package portal/renderer.

# Observability

WithLifecycleHooks receives node, rebuild, cache and request events.
Package observability turns them into Prometheus metrics and log records.
*/
package cocoon
