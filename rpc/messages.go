// Package rpc implements the typed message catalogue over package
// link: the server-bound and client-bound request spaces, the
// handshake sequencing, and the fixed observer dispatch for the five
// server-pushed notifications.
package rpc

import uuid "github.com/satori/go.uuid"

// Server-bound message ids, assigned in catalogue declaration order.
const (
	msgServerHandshake byte = iota
	msgListVirtualMachines
	msgReorderVirtualMachines
	msgGetVirtualMachineInformation
	msgGetQEMUConfiguration
	msgGetPackageSize
	msgGetPackageFile
	msgSendPackageFile
	msgDeletePackageFile
	msgMountGuestToolsOnVirtualMachine
	msgStartVirtualMachine
	msgStopVirtualMachine
	msgRestartVirtualMachine
	msgPauseVirtualMachine
	msgResumeVirtualMachine
	msgSaveSnapshotVirtualMachine
	msgDeleteSnapshotVirtualMachine
	msgRestoreSnapshotVirtualMachine
	msgChangePointerTypeVirtualMachine
)

// Client-bound message ids: a disjoint numbering space (§4.4.1).
const (
	msgClientHandshake byte = iota
	msgListHasChanged
	msgQemuConfigurationHasChanged
	msgMountedDrivesHasChanged
	msgVirtualMachineDidTransition
	msgVirtualMachineDidError
)

// StopMethod is the `{request|force|kill}` enum of StopVirtualMachine.
type StopMethod string

const (
	StopRequest StopMethod = "request"
	StopForce   StopMethod = "force"
	StopKill    StopMethod = "kill"
)

// VMState is the VM lifecycle enum carried in VmInfo and
// VirtualMachineDidTransition.
type VMState string

const (
	VMStateStopped   VMState = "stopped"
	VMStateStarting  VMState = "starting"
	VMStateStarted   VMState = "started"
	VMStatePausing   VMState = "pausing"
	VMStatePaused    VMState = "paused"
	VMStateResuming  VMState = "resuming"
	VMStateSaving    VMState = "saving"
	VMStateRestoring VMState = "restoring"
	VMStateStopping  VMState = "stopping"
)

var vmStateVariants = []string{
	string(VMStateStopped), string(VMStateStarting), string(VMStateStarted),
	string(VMStatePausing), string(VMStatePaused), string(VMStateResuming),
	string(VMStateSaving), string(VMStateRestoring), string(VMStateStopping),
}

var stopMethodVariants = []string{string(StopRequest), string(StopForce), string(StopKill)}

// VmInfo mirrors the catalogue's VmInfo record.
type VmInfo struct {
	ID                uuid.UUID
	Name              string
	Path              string
	IsShortcut        bool
	IsSuspended       bool
	IsTakeoverAllowed bool
	Backend           string
	State             VMState
	MountedDrives     map[string]string
}

// SpiceInfo mirrors the catalogue's SpiceInfo record, returned by
// StartVirtualMachine.
type SpiceInfo struct {
	SpicePortInternal int64
	SpicePortExternal int64
	SpiceHostExternal string
	SpicePublicKey    []byte
	SpicePassword     string
}
