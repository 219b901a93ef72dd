// Package engine runs installer action sequences and resolves feature and
// component install states.
//
// # Overview
//
// An installation is driven by two sequence tables, UI and Execute. Each row
// names an action, an optional condition and a sequence number:
//
//  1. Sequence - rows with a positive sequence number run in ascending order (Session.RunSequence)
//  2. Dispatch - each action goes to a built-in handler, a custom action or a dialog (Session.Dispatch)
//  3. Script - between InstallInitialize and InstallFinalize eligible actions are deferred (Script)
//  4. Resolve - costing decides what every feature and component will do (Resolve)
//  5. Outcome - rows numbered -1..-4 run once the install has finished (Session.RunOutcome)
//
// # Core Domain Types
//
//   - SequenceEntry: a row of a sequence table
//   - Feature / FeatureTree: user-selectable units arranged as an arena-backed tree
//   - Component: the smallest installable unit, shared between features
//   - Package: properties, features, components and scripts of one session
//   - Resolution: the resolved actions, computed without mutating the package
//   - InstallState: Unknown, Absent, Local, Source, Advertised and the Default request
//
// # Dispatch Rules
//
// A registered handler runs immediately unless the script is recording. While
// recording, handlers are appended to the install script instead, except
// InstallFinalize, InstallExecute and InstallExecuteAgain, which drive the
// script and always run. Flushing replays a script with recording forced off.
//
// Actions without a handler are offered to the CustomActionRunner and, in UI
// mode, to the DialogRunner. An action nobody handles returns
// ErrFunctionNotCalled, which like ErrNotImplemented does not stop a pass.
//
// # Result Codes
//
// Errors carry installer result codes (see Code). ResultCode maps any error to
// its code and OutcomeFor maps it to the outcome marker whose hooks run at the
// end of Install.
//
// # Concurrency
//
// A Session is single-threaded: handlers, conditions and script replay run on
// the goroutine that called Install. Notifiers and observers must not block.
package engine
