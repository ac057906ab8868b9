// Package code enumerates the application close codes defined by the
// graphql-transport-ws protocol.
package code

const (
	BadRequest                      = 4400
	Unauthorized                    = 4401
	Forbidden                       = 4403
	SubprotocolNotAcceptable        = 4406
	ConnectionInitialisationTimeout = 4408
	SubscriberAlreadyExists         = 4409
	TooManyInitialisationRequests   = 4429
)
