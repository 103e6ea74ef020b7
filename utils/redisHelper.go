package utils

import (
	"time"

	"github.com/sekura/tollops_backend/config"
)

func cycleCacheKey(site, instrumentId string) string {
	return "CycleState:" + site + "|" + instrumentId
}

// RetrieveCachedCycle returns nil when the key is missing or redis is not connected.
func RetrieveCachedCycle[T any](site, instrumentId string) (*T, error) {
	var result *T
	exists, err := config.GetRedisObject(cycleCacheKey(site, instrumentId), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func StoreCachedCycle(site, instrumentId string, obj any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return config.SetRedisObject(cycleCacheKey(site, instrumentId), obj, ttl)
}

func RemoveCachedCycle(site, instrumentId string) error {
	return config.RemoveRedisKey(cycleCacheKey(site, instrumentId))
}
