package sshexec

// Host fact probes
const (
	CmdUnameOS       = "uname -s"
	CmdUnameArch     = "uname -m"
	CmdNproc         = "nproc"
	CmdFreeMemory    = "free -b"
	CmdDockerVersion = "docker --version 2>&1"
	CmdDockerPS      = "docker ps > /dev/null 2>&1 && echo 'ok'"
	CmdCPUUsage      = "grep 'cpu ' /proc/stat | awk '{usage=($2+$4)*100/($2+$3+$4+$5)} END {print usage}'"
)

// Server setup
const (
	CmdCheckDocker   = "docker --version 2>&1"
	CmdInstallDocker = "curl -fsSL https://get.docker.com -o /tmp/get-docker.sh && sudo sh /tmp/get-docker.sh"

	CmdCreateDirectories = "sudo mkdir -p /opt/moor/projects /etc/moor /var/log/moor"
	CmdSetDirOwnership   = "sudo chown -R moor:moor /opt/moor/projects /etc/moor /var/log/moor 2>/dev/null || " +
		"sudo chown -R moor:moor /opt/moor /etc/moor /var/log/moor"

	CmdCheckUser       = "id -u moor 2>/dev/null || echo 'not_exists'"
	CmdCreateUser      = "sudo useradd -m -s /bin/bash moor"
	CmdAddUserToDocker = "sudo usermod -aG docker moor"

	CmdCheckUFW      = "which ufw || echo 'not_installed'"
	CmdInstallUFW    = "sudo apt-get update && sudo apt-get install -y ufw"
	CmdUFWAllowSSH   = "sudo ufw allow 22/tcp"
	CmdUFWAllowHTTP  = "sudo ufw allow 80/tcp"
	CmdUFWAllowHTTPS = "sudo ufw allow 443/tcp"
	CmdUFWAllowSwarm = "sudo ufw allow 2377/tcp && sudo ufw allow 7946/tcp && sudo ufw allow 7946/udp && sudo ufw allow 4789/udp"
	CmdUFWEnable     = "echo 'y' | sudo ufw enable || sudo ufw --force enable"

	UserNotExistsMarker   = "not_exists"
	UFWNotInstalledMarker = "not_installed"
)
