package messaging

// Topic names a logical message channel on the bus. Ordering is only
// guaranteed within a single partition key on a topic.
type Topic string

const (
	// Command topics, one per downstream service
	TopicPaymentCommands   Topic = "payment-commands"
	TopicInventoryCommands Topic = "inventory-commands"
	TopicShippingCommands  Topic = "shipping-commands"

	// Event topics, one per downstream service
	TopicPaymentEvents   Topic = "payment-events"
	TopicInventoryEvents Topic = "inventory-events"
	TopicShippingEvents  Topic = "shipping-events"
)

func (t Topic) String() string {
	return string(t)
}

var commandTopics = map[CommandType]Topic{
	CommandProcessPayment:   TopicPaymentCommands,
	CommandRefundPayment:    TopicPaymentCommands,
	CommandReserveInventory: TopicInventoryCommands,
	CommandReleaseInventory: TopicInventoryCommands,
	CommandCreateShipment:   TopicShippingCommands,
}

// CommandTopic resolves the topic a command must be published on.
func CommandTopic(t CommandType) (Topic, bool) {
	topic, ok := commandTopics[t]
	return topic, ok
}
