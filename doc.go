/*
Package cfddns keeps Cloudflare DNS records pointed at the public IP of the host it runs on.

Usage will always start with [New] or [NewFromConfig],
which return a [Client] bound to one Cloudflare zone.
[Client.Sync] then walks the configured records once:
it resolves the public address for each record's family,
lists the existing record, and creates or updates it when the address differs.

Public addresses come from a [Resolver].
By default A records ask [DefaultIPv4Services] and AAAA records ask [DefaultIPv6Services];
[InterfaceResolver] and [FromString] are the alternatives.

There is no daemon mode. Run the cfddns command from cron or a systemd timer.
*/
package cfddns
