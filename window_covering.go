package leapkit

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
)

type TiltCovering struct {
	*accessory.A
	WindowCovering *service.WindowCovering
}

func NewTiltCovering(info accessory.Info) *TiltCovering {
	acc := TiltCovering{}
	acc.A = accessory.New(info, accessory.TypeWindowCovering)
	acc.WindowCovering = service.NewWindowCovering()

	acc.AddS(acc.WindowCovering.S)
	return &acc
}
