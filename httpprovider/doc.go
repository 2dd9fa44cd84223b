// Package httpprovider talks to providers over plain HTTP.
//
// Client.Execute, Client.Stream and Client.Probe match provider.ExecuteFunc,
// provider.StreamFunc and provider.ProbeFunc, so a Client can back a
// service.Service directly:
//
//	c := httpprovider.New(httpprovider.Config{})
//	svc, err := service.New(service.Options{
//		Execute: c.Execute,
//		Stream:  c.Stream,
//		Probe:   c.Probe,
//	})
//
// Request bodies are opaque: a request's Payload is sent verbatim, and
// without one a small JSON envelope carrying model, prompt and params is
// sent instead. Responses whose body is a JSON object with a string
// "content" field yield that string; any other body is returned as is.
//
// Status codes map onto provider error classes: 408, 429 and 5xx are
// transient, every other non-2xx status is permanent.
package httpprovider
