package modbustest

import (
	"encoding/binary"
	"fmt"
)

// MBAP Header (7 Bytes) + Function Code + Data
type Frame struct {
	TransactionID uint16 // Request/Response Korrelation
	ProtocolID    uint16 // Immer 0x0000 für Modbus
	Length        uint16 // Anzahl folgender Bytes
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	headerSize = 7

	funcReadHoldingRegisters = 0x03
	exceptionFlag            = 0x80

	ExceptionIllegalFunction    byte = 0x01
	ExceptionIllegalDataAddress byte = 0x02
	ExceptionServerDeviceBusy   byte = 0x06
)

// Encode erstellt das komplette TCP Frame
func (f *Frame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // UnitID + FunctionCode

	frame := make([]byte, headerSize+1+len(f.Data))
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parst ein empfangenes Frame
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < headerSize+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}

	if len(data) > headerSize+1 {
		frame.Data = data[headerSize+1:]
	}

	return frame, nil
}

// readRequest extrahiert Startadresse und Anzahl aus einem 0x03 Request.
func (f *Frame) readRequest() (start, quantity uint16, err error) {
	if len(f.Data) < 4 {
		return 0, 0, fmt.Errorf("request too short")
	}
	return binary.BigEndian.Uint16(f.Data[0:2]), binary.BigEndian.Uint16(f.Data[2:4]), nil
}

func registerResponse(req *Frame, values []uint16) *Frame {
	data := make([]byte, 1+2*len(values))
	data[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[1+2*i:], v)
	}

	return &Frame{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode,
		Data:          data,
	}
}

func exceptionResponse(req *Frame, code byte) *Frame {
	return &Frame{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode | exceptionFlag,
		Data:          []byte{code},
	}
}
