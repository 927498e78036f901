package model

// DeliveryBody is the document posted to the collector. The identity key differs per
// deployment ("key" for bearer auth, "device_id" for payload-key auth), so it is rendered as a
// map rather than a tagged struct.
type DeliveryBody map[string]any

// NewDeliveryBody copies the sensor readings, stamps them with the receive time and pairs them
// with the identity under identityKey.
func NewDeliveryBody(identityKey string, r DecodedRecord) DeliveryBody {
	data := make(map[string]any, len(r.SensorData)+1)
	for k, v := range r.SensorData {
		data[k] = v
	}
	if !r.ReceivedAt.IsZero() {
		data["time"] = r.ReceivedAtString()
	}
	return DeliveryBody{
		identityKey: r.Identity,
		"data":      data,
	}
}
