// Package staging implements the on-disk file-state machine shared by the
// receiver and the transfer manager.
//
// Layout under the data folder:
//
//	<dataFolder>/<subsystem>/Incoming/<file>    newly received payloads
//	<dataFolder>/tempStorage/<subsystem>/<file> payloads isolated for transfer
//
// The store exclusively owns transitions between these locations. Every
// transition is an atomic rename within the same volume, so a crash at any
// point leaves a payload visible in exactly its pre-transition location and
// the transition is safe to retry. No in-memory locks are needed: the
// directory tree is the sole shared state, which keeps the design correct
// even when receiver and transfer manager run as separate processes.
//
// Delivery records are persisted as a JSON sidecar (<file>.delivery) beside
// each payload and move together with it. A payload found without a sidecar
// gets fresh Pending records, so the delivery index is always rebuildable
// from directory contents alone.
package staging
