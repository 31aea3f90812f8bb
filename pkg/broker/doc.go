// Package broker implements the core of the federated cloud-resource
// broker: the order model and its lifecycle state machine, the
// state-partitioned registry, the local and remote cloud connector surface
// behind a provider-keyed factory, the order controller, and the background
// processors that drive every order from activation to closure.
//
// The package deliberately knows nothing about transports or concrete
// clouds. Remote communication enters through an injected connector
// builder; clouds enter through the plugin interfaces.
package broker
