package protocol

// Response is an inbound notification payload. The firmware does not yet
// define a structured response format, so Raw carries the bytes exactly as
// received. Structured variants belong here once the firmware versions its
// replies.
type Response struct {
	Raw []byte
}

// Decode interprets a notification payload. The returned Response owns a
// copy of data.
func Decode(data []byte) Response {
	return Response{Raw: append([]byte(nil), data...)}
}

// Text returns the payload as a string, which is how firmware version
// replies are currently read.
func (r Response) Text() string {
	return string(r.Raw)
}
