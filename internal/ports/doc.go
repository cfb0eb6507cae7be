// Package ports defines the interfaces that connect the pipeline core to
// infrastructure adapters.
//
//   - [PayloadSource]: where new payloads come from (live subscription inbox,
//     HTTP push); the replay engine substitutes for a source by driving the
//     Receiver directly.
//   - [Destination]: a configured delivery target (filesystem site or
//     storage-grid endpoint).
//
// The core packages (receive, transfer, replay, app) depend only on these
// interfaces; internal/adapters provides the concrete implementations. That
// keeps the transfer logic testable with hand mocks and lets destinations be
// swapped without touching the state machine.
package ports
