package redis

func instanceKey(keyPrefix, instanceID string) string {
	return keyPrefix + "instance:" + instanceID
}

func pendingEventsKey(keyPrefix, instanceID string) string {
	return keyPrefix + "pending-events:" + instanceID
}

func historyKey(keyPrefix, instanceID string) string {
	return keyPrefix + "history:" + instanceID
}

func instanceLockKey(keyPrefix, instanceID string) string {
	return keyPrefix + "instance-lock:" + instanceID
}

func instancesActiveKey(keyPrefix string) string {
	return keyPrefix + "instances-active"
}
