package kafka

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowgate/pkg/events"
)

// partitionKey keeps messages with the same event key on one partition.
func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}
