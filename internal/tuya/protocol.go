package tuya

import (
	"bytes"
	"crypto/aes"
	"crypto/md5" //nolint:gosec // The protocol fixes MD5 for signatures and the broadcast key.
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame markers.
const (
	framePrefix uint32 = 0x000055AA
	frameSuffix uint32 = 0x0000AA55
)

// Command codes used by plugctl.
const (
	commandControl uint32 = 0x07
	commandStatus  uint32 = 0x08
	commandDPQuery uint32 = 0x0a
)

// Protocol versions understood by the client.
const (
	version31 = "3.1"
	version33 = "3.3"
)

const (
	// headerSize covers prefix, sequence number, command and length.
	headerSize = 16
	// trailerSize covers CRC and suffix.
	trailerSize = 8
	// returnCodeSize is the status word devices put before their payload.
	returnCodeSize = 4
	// maxFrameSize bounds what a misbehaving peer can make us allocate.
	maxFrameSize = 64 << 10
	// signatureSize is the hex MD5 slice in 3.1 control payloads.
	signatureSize = 16
)

// udpKey decrypts 3.3 discovery broadcasts.
//
//nolint:gochecknoglobals,gosec // Fixed by the protocol.
var udpKey = md5.Sum([]byte("yGAdlopoPVldABfn"))

// version33Header prefixes 3.3 payloads other than DP queries.
//
//nolint:gochecknoglobals // Constant byte layout.
var version33Header = append([]byte(version33), make([]byte, 12)...)

var (
	errBadPrefix   = errors.New("bad frame prefix")
	errBadSuffix   = errors.New("bad frame suffix")
	errBadChecksum = errors.New("frame checksum mismatch")
	errBadLength   = errors.New("bad frame length")
	errBadPadding  = errors.New("bad padding")
	errBadBlock    = errors.New("ciphertext is not a whole number of blocks")
)

// frame is one protocol message.
type frame struct {
	// seq is the sequence number chosen by the sender.
	seq uint32
	// command is the command code.
	command uint32
	// returnCode is the device status word, zero on success.
	returnCode uint32
	// payload is the message body without the return code.
	payload []byte
}

// encodeFrame builds a client frame, which carries no return code.
func encodeFrame(seq, command uint32, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload)+trailerSize)

	binary.BigEndian.PutUint32(buf[0:], framePrefix)
	binary.BigEndian.PutUint32(buf[4:], seq)
	binary.BigEndian.PutUint32(buf[8:], command)
	binary.BigEndian.PutUint32(buf[12:], uint32(len(payload)+trailerSize)) //nolint:gosec // Bounded by maxFrameSize.
	copy(buf[headerSize:], payload)

	end := headerSize + len(payload)
	binary.BigEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[:end]))
	binary.BigEndian.PutUint32(buf[end+4:], frameSuffix)

	return buf
}

// readFrame reads exactly one frame from r.
func readFrame(r io.Reader, fromDevice bool) (*frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	if binary.BigEndian.Uint32(header) != framePrefix {
		return nil, errBadPrefix
	}

	length := binary.BigEndian.Uint32(header[12:])
	if length < trailerSize || length > maxFrameSize {
		return nil, fmt.Errorf("%w: %d", errBadLength, length)
	}

	data := make([]byte, headerSize+int(length))
	copy(data, header)

	if _, err := io.ReadFull(r, data[headerSize:]); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	return parseFrame(data, fromDevice)
}

// parseFrame decodes a complete frame. Device frames usually start their
// payload with a return code; it is detected by its zero high bytes.
func parseFrame(data []byte, fromDevice bool) (*frame, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes", errBadLength, len(data))
	}

	if binary.BigEndian.Uint32(data) != framePrefix {
		return nil, errBadPrefix
	}

	if int(binary.BigEndian.Uint32(data[12:])) != len(data)-headerSize {
		return nil, fmt.Errorf("%w: header disagrees with frame size", errBadLength)
	}

	end := len(data) - trailerSize
	if binary.BigEndian.Uint32(data[end:]) != crc32.ChecksumIEEE(data[:end]) {
		return nil, errBadChecksum
	}

	if binary.BigEndian.Uint32(data[end+4:]) != frameSuffix {
		return nil, errBadSuffix
	}

	f := &frame{
		seq:     binary.BigEndian.Uint32(data[4:]),
		command: binary.BigEndian.Uint32(data[8:]),
		payload: data[headerSize:end],
	}

	if fromDevice && len(f.payload) >= returnCodeSize && binary.BigEndian.Uint32(f.payload)&0xFFFFFF00 == 0 {
		f.returnCode = binary.BigEndian.Uint32(f.payload)
		f.payload = f.payload[returnCodeSize:]
	}

	return f, nil
}

// encryptECB encrypts with AES-ECB and PKCS#7 padding, as the devices expect.
func encryptECB(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	padding := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(bytes.Clone(plain), bytes.Repeat([]byte{byte(padding)}, padding)...)

	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}

	return out, nil
}

// decryptECB reverses encryptECB.
func decryptECB(key, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", errBadBlock, len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}

	padding := int(out[len(out)-1])
	if padding == 0 || padding > aes.BlockSize {
		return nil, errBadPadding
	}

	for _, b := range out[len(out)-padding:] {
		if int(b) != padding {
			return nil, errBadPadding
		}
	}

	return out[:len(out)-padding], nil
}

// encodePayload wraps a JSON body for the given protocol version and command.
func encodePayload(version string, key []byte, command uint32, body []byte) ([]byte, error) {
	switch version {
	case version33:
		encrypted, err := encryptECB(key, body)
		if err != nil {
			return nil, err
		}

		if command == commandDPQuery {
			return encrypted, nil
		}

		return append(bytes.Clone(version33Header), encrypted...), nil
	default:
		// 3.1 only encrypts control messages, signed with MD5.
		if command != commandControl {
			return body, nil
		}

		encrypted, err := encryptECB(key, body)
		if err != nil {
			return nil, err
		}

		data := base64.StdEncoding.EncodeToString(encrypted)

		return []byte(version31 + sign31(data, key) + data), nil
	}
}

// decodePayload returns the JSON body of a device payload. Devices answer
// some failures in plain text, which is passed through.
func decodePayload(version string, key, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}

	if version == version33 {
		encrypted := payload
		if bytes.HasPrefix(encrypted, []byte(version33)) && len(encrypted) >= len(version33Header) {
			encrypted = encrypted[len(version33Header):]
		}

		plain, err := decryptECB(key, encrypted)
		if err != nil && payload[0] == '{' {
			return payload, nil
		}

		return plain, err
	}

	if !bytes.HasPrefix(payload, []byte(version31)) {
		return payload, nil
	}

	if len(payload) < len(version31)+signatureSize {
		return nil, fmt.Errorf("%w: short 3.1 payload", errBadLength)
	}

	encrypted, err := base64.StdEncoding.DecodeString(string(payload[len(version31)+signatureSize:]))
	if err != nil {
		return nil, fmt.Errorf("decode 3.1 payload: %w", err)
	}

	return decryptECB(key, encrypted)
}

// sign31 computes the 3.1 control message signature.
func sign31(data string, key []byte) string {
	sum := md5.Sum([]byte("data=" + data + "||lpv=" + version31 + "||" + string(key))) //nolint:gosec // Protocol defined.

	return hex.EncodeToString(sum[:])[8:24]
}
