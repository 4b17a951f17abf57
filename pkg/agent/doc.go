// Package agent defines the perceive-cognize-act workflow: the six nodes
// that analyze a command, capture and analyze the screen, execute actions,
// validate results, and recover from errors, plus the routing rules that
// connect them.
//
// Nodes talk to the outside world only through the collaborator interfaces
// (VisionService, ScreenService, ActionService). Simulated collaborators
// are provided for demos and tests; production deployments supply real
// implementations.
package agent
