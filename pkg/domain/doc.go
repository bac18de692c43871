/*
Package domain contains the core request model of the Cocoon engine.

It defines the entities every other package speaks about: the Environment that
wraps one request/response pair, the object model shared by pipeline
components, sitemap parameters and the lifecycle hooks used for observability.
This package is kept free of I/O and third-party dependencies, following
Hexagonal Architecture principles.

# Key Entities

  - Environment: the request, the response and the object model of one
    (possibly internal) request, plus the URI prefix and context of the
    sitemap currently handling it.
  - Parameters: name/value pairs attached to sitemap components.
  - LifecycleHooks: callbacks fired by the tree processor and the caching
    layer.
*/
package domain
