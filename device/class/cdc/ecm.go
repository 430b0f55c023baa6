package cdc

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// DefaultMaxSegmentSize is the Ethernet frame size advertised by AppendECM.
const DefaultMaxSegmentSize = 1514

// Ethernet statistics selectors served by GET_ETHERNET_STATISTIC.
const (
	StatisticTransmitOK = 0x01
	StatisticReceiveOK  = 0x02
)

// MaxMulticastFilters is the number of multicast addresses retained.
const MaxMulticastFilters = 16

// ECM is a CDC Ethernet Control Model class driver. The data interface
// carries frames only while alternate setting 1 is selected.
type ECM struct {
	device.UnimplementedDriver

	mutex sync.Mutex

	stack      *device.Stack
	dev        *device.Device
	control    *device.Interface
	data       *device.Interface
	dataNum    uint8
	notifyEP   *device.Pipe
	inEP       *device.Pipe
	outEP      *device.Pipe
	functional EthernetFunctional

	packetFilter uint16
	multicast    [][MulticastAddressSize]byte
	connected    bool
	txFrames     uint32
	rxFrames     uint32
}

var _ device.ClassDriver = (*ECM)(nil)

// NewECM creates an ECM driver.
func NewECM() *ECM { return &ECM{} }

func (e *ECM) Name() string { return "cdc-ecm" }

// Connected reports whether the host selected the data alternate setting.
func (e *ECM) Connected() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.connected
}

// PacketFilter returns the PacketFilter bits last set by the host.
func (e *ECM) PacketFilter() uint16 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.packetFilter
}

// MulticastFilters returns the multicast addresses last set by the host.
func (e *ECM) MulticastFilters() [][MulticastAddressSize]byte {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([][MulticastAddressSize]byte(nil), e.multicast...)
}

// Functional returns the Ethernet functional descriptor of the bound
// communication interface.
func (e *ECM) Functional() EthernetFunctional {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.functional
}

// ExamineInterface accepts ECM communication interfaces and CDC data
// interfaces.
func (e *ECM) ExamineInterface(desc *device.InterfaceDescriptor) error {
	switch {
	case desc.InterfaceClass == device.ClassCDC && desc.InterfaceSubClass == SubclassECM:
		return nil
	case desc.InterfaceClass == device.ClassCDCData:
		return nil
	}
	return pkg.ErrNotSupported
}

// InitializeInterface claims a communication interface together with the
// data interface named by its Union functional descriptor. The
// communication interface must carry an Ethernet functional descriptor.
func (e *ECM) InitializeInterface(s *device.Stack, dev *device.Device, intf *device.Interface) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.dev != nil && e.dev != dev {
		return nil
	}
	alt := intf.Current()
	switch alt.Descriptor().InterfaceClass {
	case device.ClassCDC:
		if e.control != nil {
			return nil
		}
		var fn EthernetFunctional
		if err := ParseEthernetFunctional(FindFunctional(alt.ClassSpecific(), SubtypeEthernet), &fn); err != nil {
			return err
		}
		e.stack, e.dev = s, dev
		e.control = intf
		e.functional = fn
		e.dataNum = dataInterface(alt.ClassSpecific(), intf.Number())
		e.notifyEP = alt.FindPipe(device.EndpointTypeInterrupt, true)
		intf.SetDriver(e)
		pkg.LogDebug(pkg.ComponentDriver, "ecm control bound",
			"interface", intf.Number(), "data", e.dataNum, "mtu", fn.MaxSegmentSize)

		data := dev.Interface(e.dataNum)
		if data == nil || data.Driver() != nil ||
			data.Current().Descriptor().InterfaceClass != device.ClassCDCData {
			return nil
		}
		e.bindData(data)
	case device.ClassCDCData:
		if e.control == nil || e.data != nil || intf.Number() != e.dataNum {
			return nil
		}
		e.bindData(intf)
	}
	return nil
}

func (e *ECM) bindData(intf *device.Interface) {
	e.data = intf
	e.bindDataPipes(intf.Current())
	intf.SetDriver(e)
}

func (e *ECM) bindDataPipes(alt *device.AlternateSetting) {
	e.inEP = alt.FindPipe(device.EndpointTypeBulk, true)
	e.outEP = alt.FindPipe(device.EndpointTypeBulk, false)
	e.connected = e.inEP != nil && e.outEP != nil
}

// Disconnect releases the function served on dev.
func (e *ECM) Disconnect(_ *device.Stack, dev *device.Device) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.dev != dev {
		return nil
	}
	e.stack, e.dev = nil, nil
	e.control, e.data = nil, nil
	e.notifyEP, e.inEP, e.outEP = nil, nil, nil
	e.connected = false
	e.packetFilter = 0
	e.multicast = nil
	return nil
}

// SetAlternateSetting rebinds the data pipes and tells the host the
// resulting link state with a NETWORK_CONNECTION notification.
func (e *ECM) SetAlternateSetting(s *device.Stack, _ *device.Device, intf *device.Interface, alt *device.AlternateSetting) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	switch intf {
	case e.control:
		e.notifyEP = alt.FindPipe(device.EndpointTypeInterrupt, true)
		return nil
	case e.data:
		e.bindDataPipes(alt)
	default:
		return nil
	}
	pkg.LogDebug(pkg.ComponentDriver, "ecm link", "connected", e.connected)
	if e.notifyEP == nil || !e.notifyEP.IsOpen() {
		return nil
	}
	var value uint16
	if e.connected {
		value = 1
	}
	msg := notification(make([]byte, notificationHeaderSize), NotificationNetworkConnection, value, e.control.Number(), nil)
	return s.SubmitTransfer(e.notifyEP, hal.NewTransfer(msg, true))
}

// NewSetup handles the ECM class requests.
func (e *ECM) NewSetup(_ *device.Stack, dev *device.Device, setup *device.SetupPacket) error {
	if !setup.IsClass() {
		return pkg.ErrNotSupported
	}
	switch setup.Request {
	case RequestSetPacketFilter:
		e.mutex.Lock()
		e.packetFilter = setup.Value
		e.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentDriver, "ecm packet filter", "filter", setup.Value)
	case RequestSetMulticastFilters:
		count := int(setup.Value)
		if count > MaxMulticastFilters || int(setup.Length) != count*MulticastAddressSize {
			return pkg.ErrInvalidArgument
		}
		if count == 0 {
			e.setMulticast(nil)
			return nil
		}
		dev.Receive(int(setup.Length), e.setMulticast)
	case RequestGetStatistic:
		var counter uint32
		e.mutex.Lock()
		switch setup.Value {
		case StatisticTransmitOK:
			counter = e.txFrames
		case StatisticReceiveOK:
			counter = e.rxFrames
		default:
			e.mutex.Unlock()
			return pkg.ErrNotSupported
		}
		e.mutex.Unlock()
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], counter)
		dev.Reply(buf[:min(int(setup.Length), len(buf))])
	default:
		return pkg.ErrNotSupported
	}
	return nil
}

func (e *ECM) setMulticast(data []byte) {
	var list [][MulticastAddressSize]byte
	for off := 0; off+MulticastAddressSize <= len(data); off += MulticastAddressSize {
		list = append(list, [MulticastAddressSize]byte(data[off:off+MulticastAddressSize]))
	}
	e.mutex.Lock()
	e.multicast = list
	e.mutex.Unlock()
}

// ReadFrame receives one Ethernet frame from the host into buf.
func (e *ECM) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	e.mutex.Lock()
	s, p := e.stack, e.outEP
	e.mutex.Unlock()
	if p == nil {
		return 0, pkg.ErrInvalidState
	}
	n, err := s.Read(ctx, p, buf)
	if err == nil {
		e.mutex.Lock()
		e.rxFrames++
		e.mutex.Unlock()
	}
	return n, err
}

// WriteFrame sends one Ethernet frame to the host.
func (e *ECM) WriteFrame(ctx context.Context, frame []byte) (int, error) {
	e.mutex.Lock()
	s, p, mss := e.stack, e.inEP, e.functional.MaxSegmentSize
	e.mutex.Unlock()
	if p == nil {
		return 0, pkg.ErrInvalidState
	}
	if mss != 0 && len(frame) > int(mss) {
		return 0, pkg.ErrInvalidArgument
	}
	n, err := s.Write(ctx, p, frame)
	if err == nil {
		e.mutex.Lock()
		e.txFrames++
		e.mutex.Unlock()
	}
	return n, err
}

// AppendECM appends an ECM function to b: communication interface control
// with its functional descriptors and notification endpoint, then data
// interface control+1 with an empty alternate setting 0 and a bulk pair at
// alternate setting 1. macIndex is the string index of the MAC address.
func AppendECM(b *device.ConfigBuilder, control, notifyEP, inEP, outEP, macIndex uint8, maxPacket uint16) *device.ConfigBuilder {
	data := control + 1
	fn := EthernetFunctional{
		MACAddressIndex: macIndex,
		MaxSegmentSize:  DefaultMaxSegmentSize,
	}
	var rec [EthernetFunctionalSize]byte
	fn.MarshalTo(rec[:])
	return b.Interface(control, 0, device.ClassCDC, SubclassECM, ProtocolNone).
		ClassSpecific(HeaderFunctional(0x0110)...).
		ClassSpecific(UnionFunctional(control, data)...).
		ClassSpecific(rec[:]...).
		Endpoint(notifyEP, device.EndpointTypeInterrupt, 16, 32).
		Interface(data, 0, device.ClassCDCData, 0, 0).
		Interface(data, 1, device.ClassCDCData, 0, 0).
		Endpoint(inEP, device.EndpointTypeBulk, maxPacket, 0).
		Endpoint(outEP, device.EndpointTypeBulk, maxPacket, 0)
}
