package main

import (
	"context"
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/zeldin/goutmremote/rpc"
)

// resolveVM accepts either a VM's uuid or its name, as printed by the
// default listing, and returns its id.
func resolveVM(ctx context.Context, session *rpc.Session, ref string) (uuid.UUID, error) {
	if id, err := uuid.FromString(ref); err == nil {
		return id, nil
	}

	ids, err := session.ListVirtualMachines(ctx)
	if err != nil {
		return uuid.UUID{}, err
	}
	infos, err := session.GetVirtualMachineInformation(ctx, ids)
	if err != nil {
		return uuid.UUID{}, err
	}
	for _, info := range infos {
		if info.Name == ref {
			return info.ID, nil
		}
	}
	return uuid.UUID{}, fmt.Errorf("utmremote: no virtual machine named %q", ref)
}
