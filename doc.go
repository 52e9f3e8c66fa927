/*
Package signalr implements the server side of the classic signalr wire
protocol: version negotiation, persistent connections over the transport
types webSockets, serverSentEvents and longPolling, hubs with two-way RPC,
groups and message replay after reconnects.

Basics

A client first negotiates: the server resolves the protocol version, issues
a connection id and a tamper evident connection token, and advertises its
timeouts and the available transports. Every later request carries the
token; the server never trusts a bare connection id.

Messages sent to a connection are kept in a bounded per connection buffer
and tagged with a cursor. A client reconnecting with its last cursor
receives the messages it missed, as far as the buffer still holds them.

Server

A Server is created with NewServer and configured by options. It hosts two
kinds of endpoints. MapConnection serves a raw ConnectionHandler, which
receives lifecycle and data callbacks and talks to clients through the
message bus. MapHub serves the hubs registered with the RegisterHub option
as remote procedure calls.

Hubs

A hub is a struct embedding Hub and implementing HubInterface. Its exported
methods are invocable by clients, resolved case insensitively by name and
argument shape. A method may return values (sent as the invocation result),
an error (sent as a fault), or a channel (each element relayed as a progress
notification, closing the channel completes the invocation). A *Progress
parameter lets a method push progress explicitly while it runs.

Scale out

The ext package contains a redis backed message bus. Several server
instances sharing the redis and the protection key behave as one server.
*/
package signalr
