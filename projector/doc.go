// Package projector derives observable client state from the event stream.
//
// A Store folds events through pure reducers into a notification list and a
// map of upload-progress records, plus a projected connection view. Attach
// it to a bus and folds happen synchronously in arrival order. Consumers
// read deep-copied snapshots or subscribe for change callbacks; the only
// mutations they may request are on the notification list.
package projector
