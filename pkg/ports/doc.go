/*
Package ports defines the driven ports (interfaces) of the cocoon engine.

These interfaces decouple the sitemap interpreter and the portal layer from
concrete backends, so sources, stores and profile repositories can live in
memory, on disk or in Redis.

# Key Interfaces

  - Source / Resolver: addressable resources (file:, http:, cocoon:, cached:).
  - XMLSource: sources that can stream themselves as XML events.
  - Store: byte-oriented key/value persistence (caching source, user profiles).
  - DistributedLocker: serializes cache repopulation across replicas.
  - ProfileLoader: tiered profile parts (global, group, user).
  - Watchable: change notification for hot reload.
*/
package ports
