package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go"
	serial "github.com/jacobsa/go-serial/serial"
)

// SDS011 frame layout.
const (
	sdsHead        = 0xAA
	sdsTail        = 0xAB
	sdsCmdID       = 0xB4
	sdsDataReply   = 0xC0
	sdsCmdReply    = 0xC5
	sdsReplyLen    = 10
	sdsCommandLen  = 19
	sdsCmdReport   = 0x02
	sdsCmdQuery    = 0x04
	sdsCmdPeriod   = 0x08
	sdsReadRetries = 3
)

var errBadFrame = errors.New("sds011: bad frame")

// SDS011Options configures the serial link and duty cycle.
type SDS011Options struct {
	Port              string
	BaudRate          uint
	WorkPeriodMinutes int
}

// SDS011Sensor polls a Nova SDS011 particulate sensor in query mode.
type SDS011Sensor struct {
	port io.ReadWriteCloser
	r    *bufio.Reader
}

func NewSDS011Sensor(o SDS011Options) (Sensor, error) {
	baud := o.BaudRate
	if baud == 0 {
		baud = 9600
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:              o.Port,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 2000,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", o.Port, err)
	}
	s := newSDS011(port)
	if err := s.command(sdsCmdReport, 1, 1); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("sds011 set query mode: %w", err)
	}
	if o.WorkPeriodMinutes > 0 {
		if err := s.command(sdsCmdPeriod, 1, byte(o.WorkPeriodMinutes)); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("sds011 set work period: %w", err)
		}
	}
	return s, nil
}

func newSDS011(rw io.ReadWriteCloser) *SDS011Sensor {
	return &SDS011Sensor{port: rw, r: bufio.NewReaderSize(rw, 64)}
}

func (s *SDS011Sensor) Name() string     { return "sds011" }
func (s *SDS011Sensor) Role() Role       { return RoleAirQuality }
func (s *SDS011Sensor) Fields() []string { return []string{FieldPM25, FieldPM10} }

// Read issues a query command and waits for the data frame, resyncing on
// corrupted frames.
func (s *SDS011Sensor) Read() ([]Field, error) {
	var pm25, pm10 float64
	err := retry.Do(
		func() error {
			if _, err := s.port.Write(encodeCommand(sdsCmdQuery)); err != nil {
				return fmt.Errorf("sds011 write: %w", err)
			}
			var err error
			pm25, pm10, err = s.readData()
			return err
		},
		retry.Attempts(sdsReadRetries),
		retry.Delay(200*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errBadFrame) }),
	)
	if err != nil {
		return nil, err
	}
	return []Field{
		{Name: FieldPM25, Value: Value(pm25)},
		{Name: FieldPM10, Value: Value(pm10)},
	}, nil
}

func (s *SDS011Sensor) Close() error { return s.port.Close() }

// command sends a configuration command and consumes its acknowledgement.
func (s *SDS011Sensor) command(cmd byte, data ...byte) error {
	if _, err := s.port.Write(encodeCommand(cmd, data...)); err != nil {
		return err
	}
	for {
		frame, err := s.nextFrame()
		if err != nil {
			return err
		}
		if frame[1] == sdsCmdReply && frame[2] == cmd {
			return nil
		}
	}
}

// readData skips acknowledgement frames until a data frame arrives.
func (s *SDS011Sensor) readData() (float64, float64, error) {
	for {
		frame, err := s.nextFrame()
		if err != nil {
			return 0, 0, err
		}
		if frame[1] != sdsDataReply {
			continue
		}
		return decodeData(frame)
	}
}

func (s *SDS011Sensor) nextFrame() ([]byte, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sds011 read: %w", err)
		}
		if b != sdsHead {
			continue
		}
		frame := make([]byte, sdsReplyLen)
		frame[0] = b
		if _, err := io.ReadFull(s.r, frame[1:]); err != nil {
			return nil, fmt.Errorf("sds011 read: %w", err)
		}
		if frame[sdsReplyLen-1] != sdsTail || checksum(frame[2:8]) != frame[8] {
			return nil, errBadFrame
		}
		return frame, nil
	}
}

// encodeCommand builds a 19-byte host command. Data bytes fill positions 3
// onwards; the device id is always broadcast (0xFFFF).
func encodeCommand(cmd byte, data ...byte) []byte {
	b := make([]byte, sdsCommandLen)
	b[0] = sdsHead
	b[1] = sdsCmdID
	b[2] = cmd
	copy(b[3:15], data)
	b[15], b[16] = 0xFF, 0xFF
	b[17] = checksum(b[2:17])
	b[18] = sdsTail
	return b
}

// decodeData extracts PM2.5 and PM10 in µg/m³ from a data frame.
func decodeData(frame []byte) (float64, float64, error) {
	if len(frame) != sdsReplyLen || frame[0] != sdsHead || frame[1] != sdsDataReply || frame[9] != sdsTail {
		return 0, 0, errBadFrame
	}
	if checksum(frame[2:8]) != frame[8] {
		return 0, 0, errBadFrame
	}
	pm25 := float64(uint16(frame[3])<<8|uint16(frame[2])) / 10
	pm10 := float64(uint16(frame[5])<<8|uint16(frame[4])) / 10
	return pm25, pm10, nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}
