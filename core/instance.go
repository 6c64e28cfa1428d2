package core

// Instance identifies one logical orchestration run.
type Instance struct {
	// InstanceID is the caller-visible, immutable key of the orchestration instance.
	InstanceID string `json:"instance_id,omitempty"`

	// ExecutionID identifies the execution of the instance. It is generated when
	// the instance is created and is carried through every task for the instance.
	ExecutionID string `json:"execution_id,omitempty"`
}

func NewInstance(instanceID, executionID string) *Instance {
	return &Instance{
		InstanceID:  instanceID,
		ExecutionID: executionID,
	}
}
