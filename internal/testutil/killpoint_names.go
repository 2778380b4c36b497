package testutil

// KillPointEnvVar names the environment variable that arms a kill point at
// process start.
const KillPointEnvVar = "POOLKV_KILL_POINT"

// Kill point names follow "Component.Operation:N", N=0 before the step and
// N=1 after it.
const (
	KPWALAppend0 = "WAL.Append:0"
	KPWALSync0   = "WAL.Sync:0"
	KPWALSync1   = "WAL.Sync:1"

	KPIndexApply0 = "Index.Apply:0"

	KPCheckpointWrite0  = "Checkpoint.Write:0"
	KPCheckpointSync1   = "Checkpoint.Sync:1"
	KPCheckpointRename0 = "Checkpoint.Rename:0"
	KPCheckpointRename1 = "Checkpoint.Rename:1"
	KPCheckpointRetire0 = "Checkpoint.Retire:0"

	KPPoolMeta0 = "Pool.Meta:0"
	KPPoolMeta1 = "Pool.Meta:1"

	KPDirSync0 = "Dir.Sync:0"
	KPDirSync1 = "Dir.Sync:1"
)

// AllKillPoints lists every kill point, for crash test sweeps.
var AllKillPoints = []string{
	KPWALAppend0, KPWALSync0, KPWALSync1,
	KPIndexApply0,
	KPCheckpointWrite0, KPCheckpointSync1, KPCheckpointRename0, KPCheckpointRename1, KPCheckpointRetire0,
	KPPoolMeta0, KPPoolMeta1,
	KPDirSync0, KPDirSync1,
}
