// Package buildsys implements the small target graph that drives a build: targets with
// dependencies, ordering hints, run conditions and a proceed-after-failure flag.
// Commands run in-process through mvdan.cc/sh so that dry runs and tests can intercept
// every external tool invocation. Projects can extend the graph from a Starlark script.
package buildsys
