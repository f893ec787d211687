package gearbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
)

func randomHex(length int) string {
	if length <= 0 {
		return ""
	}

	buf := make([]byte, length)

	_, err := rand.Read(buf)
	if err != nil {
		return ""
	}

	return hex.EncodeToString(buf)
}

// returnRangeInt32 converts a string like 0-4,6-7 to [0,1,2,3,4,6,7].
// Values outside [0, max) are dropped.
func returnRangeInt32(rangeString string, max int32) (result []int32) {
	if strings.TrimSpace(rangeString) == "" {
		return nil
	}

	for _, split := range strings.Split(rangeString, ",") {
		ranges := strings.Split(strings.TrimSpace(split), "-")

		low, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
		if err != nil {
			continue
		}

		hi, err := strconv.Atoi(strings.TrimSpace(ranges[len(ranges)-1]))
		if err != nil {
			continue
		}

		for i := int32(low); i <= int32(hi); i++ {
			if 0 <= i && i < max {
				result = append(result, i)
			}
		}
	}

	return result
}

// clusterShardIDs returns the shards a cluster owns under the contiguous block rule.
func clusterShardIDs(clusterIndex, shardsPerCluster, shardCount int32) []int32 {
	shardIDs := make([]int32, 0, shardsPerCluster)

	for i := clusterIndex * shardsPerCluster; i < (clusterIndex+1)*shardsPerCluster && i < shardCount; i++ {
		shardIDs = append(shardIDs, i)
	}

	return shardIDs
}

func unmarshalPayload(payload *discord.GatewayPayload, out any) error {
	err := gearboxjson.Unmarshal(payload.Data, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return nil
}
